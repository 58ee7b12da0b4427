package token

import "fmt"

type Type int

const (
	EOF Type = iota
	Comment
	Ident
	Number
	If
	Else
	While
	Do
	True
	False
	LParen
	RParen
	LBrace
	RBrace
	Semi
	Comma
	Eq
	Plus
	Minus
	Star
	Slash
	Rem
	EqEq
	Neq
	Lt
	Gt
	Gte
	Lte
	AndAnd
	OrOr
	Not
)

var KeywordMap = map[string]Type{
	"if":    If,
	"else":  Else,
	"while": While,
	"do":    Do,
	"true":  True,
	"false": False,
}

var punctStrings = map[Type]string{
	LParen: "(", RParen: ")", LBrace: "{", RBrace: "}", Semi: ";", Comma: ",",
	Eq: "=", Plus: "+", Minus: "-", Star: "*", Slash: "/", Rem: "%",
	EqEq: "==", Neq: "!=", Lt: "<", Gt: ">", Gte: ">=", Lte: "<=",
	AndAnd: "&&", OrOr: "||", Not: "!",
}

// Reverse mapping from Type to the keyword string
var TypeStrings = make(map[Type]string)

func init() {
	for str, typ := range KeywordMap {
		TypeStrings[typ] = str
	}
	for typ, str := range punctStrings {
		TypeStrings[typ] = str
	}
	TypeStrings[EOF] = "end of file"
	TypeStrings[Ident] = "identifier"
	TypeStrings[Number] = "number"
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

type Token struct {
	Type      Type
	Value     string
	FileIndex int
	Line      int
	Column    int
	Len       int
}
