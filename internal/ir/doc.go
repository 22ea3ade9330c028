// Package ir provides the program graph consumed and rewritten by the
// autocast pass.
//
// This package contains data types and graph plumbing only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - A Graph is a tree of Blocks (structured control flow). If outputs and
//     Loop body params are explicit join values with their own dtype.
//   - Values never change dtype once resolved; joins get new values.
//   - Autocast handles are compared by identity (HandleID), never by the
//     value of their enabled flag.
//   - Attribute values have no float variant; number literals keep their
//     source text so GraphHash is stable.
package ir
