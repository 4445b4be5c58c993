package compiler

// Opcode values per the instruction set table. These match the
// original InstructionSet enum's numbering exactly, including the gap
// at 32/33 before PEEK.
const (
	NOP   = 0
	LR    = 1
	LRM   = 2
	LRR   = 3
	MRM   = 4
	ADD   = 5
	SUB   = 6
	MUL   = 7
	DIV   = 8
	HALT  = 9
	DEBUG = 10
	JMP   = 11
	RST   = 12
	// CMP is compiled to a real opcode and no-op'd by the processor at
	// runtime (see cpu.step) rather than elided during compilation;
	// observably equivalent, since CMP never sets the compare result.
	CMP   = 13
	JE    = 14
	JNE   = 15
	JL    = 16
	JG    = 17
	PUSH  = 18
	POP   = 19
	CALL  = 20
	RTN   = 21
	NOT   = 22
	OR    = 23
	AND   = 24
	XOR   = 25
	SIV   = 26
	INC   = 27
	SLEEP = 28
	WAKE  = 29
	DEC   = 30
	INT   = 31
	PEEK  = 34
)

// Opcodes maps each upper-case mnemonic to its opcode value. It holds
// no operand counts: the compiler emits whatever operands follow the
// mnemonic.
var Opcodes = map[string]int{
	"NOP": NOP, "LR": LR, "LRM": LRM, "LRR": LRR, "MRM": MRM,
	"ADD": ADD, "SUB": SUB, "MUL": MUL, "DIV": DIV, "HALT": HALT,
	"DEBUG": DEBUG, "JMP": JMP, "RST": RST, "CMP": CMP, "JE": JE,
	"JNE": JNE, "JL": JL, "JG": JG, "PUSH": PUSH, "POP": POP,
	"CALL": CALL, "RTN": RTN, "NOT": NOT, "OR": OR, "AND": AND,
	"XOR": XOR, "SIV": SIV, "INC": INC, "SLEEP": SLEEP, "WAKE": WAKE,
	"DEC": DEC, "INT": INT, "PEEK": PEEK,
}
