package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ampc/internal/compiler"
	"github.com/roach88/ampc/internal/ir"
	"github.com/roach88/ampc/internal/policy"
)

// LoadResult contains the graphs compiled from a program directory.
type LoadResult struct {
	Graphs    []*ir.Graph
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// LoadError represents an error that occurred during program loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadPrograms loads the CUE files of dir as one instance and compiles
// every graph it declares. Compilation stops at the first error.
func LoadPrograms(dir string, table *policy.Table) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("program directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing program directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	graphs, err := compiler.CompileProgram(value, compiler.Options{Table: table})
	if err != nil {
		return nil, convertCompileError(err)
	}
	return &LoadResult{Graphs: graphs, CUEValue: value, FileCount: len(cueFiles)}, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// loadTable returns the default policy table, or the override at path.
func loadTable(path string) (*policy.Table, error) {
	if path == "" {
		return policy.Default(), nil
	}
	t, err := policy.LoadFile(path)
	if err != nil {
		var tableErr *policy.TableError
		if errors.As(err, &tableErr) {
			return nil, &LoadError{Code: ErrCodePolicy, Message: tableErr.Message, Pos: tableErr.Pos}
		}
		return nil, &LoadError{Code: ErrCodePolicy, Message: err.Error()}
	}
	return t, nil
}

// selectGraphs narrows graphs to the one named, or returns all of them.
func selectGraphs(graphs []*ir.Graph, name string) ([]*ir.Graph, error) {
	if name == "" {
		return graphs, nil
	}
	for _, g := range graphs {
		if g.Name == name {
			return []*ir.Graph{g}, nil
		}
	}
	return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("graph %q not found", name)}
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// asLoadError returns err as a *LoadError, wrapping foreign errors as generic.
func asLoadError(err error) *LoadError {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodePolicy      = "E008" // Policy table override rejected
	ErrCodeDatabase    = "E009" // Ledger open, read or write failed

	// Program compilation errors
	ErrCodeParams      = "E120" // Bad parameter declaration
	ErrCodeStatement   = "E121" // Malformed statement or body
	ErrCodeBinding     = "E122" // Bad set/call binding
	ErrCodeCast        = "E123" // Bad explicit cast
	ErrCodeRegion      = "E124" // Bad with/enter/exit statement
	ErrCodeControlFlow = "E125" // Bad branch or while statement
	ErrCodeFlag        = "E126" // Bad flag literal
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "params":
		return ErrCodeParams
	case "body", "statement":
		return ErrCodeStatement
	case "set", "call", "name":
		return ErrCodeBinding
	case "cast":
		return ErrCodeCast
	case "with", "enter", "exit":
		return ErrCodeRegion
	case "branch", "while":
		return ErrCodeControlFlow
	case "flag":
		return ErrCodeFlag
	case "cue":
		return ErrCodeBuildFailed
	default:
		return ErrCodeGeneric
	}
}
