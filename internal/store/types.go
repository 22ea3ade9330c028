package store

// Status values of a compilation.
const (
	StatusOK       = "ok"
	StatusRejected = "rejected"
)

// Compilation is one recorded pass run.
type Compilation struct {
	ID            string
	Seq           int64
	GraphName     string
	ProgramHash   string // ir.GraphHash of the input graph
	PolicyVersion string
	PolicyHash    string
	Status        string
	DiagCode      string
	DiagMessage   string
	DiagDetails   map[string]string
	CastsInserted int
	IRVersion     string

	// Casts is filled by WriteCompilation input and by ReadCasts; the
	// list readers leave it nil.
	Casts []Cast
}

// Cast is one cast inserted by a successful run.
type Cast struct {
	Ordinal    int
	NodeID     int // consumer node
	Op         string
	InputIndex int
	From       string
	To         string
	Policy     string
}
