// Package convert transforms one script's raw function/range coverage, plus
// its resolved source, into canonical per-file coverage records.
package convert

import (
	"fmt"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"

	"github.com/parkuman/cypress-code-coverage-v8/coverage"
)

// span is a half-open byte range in the parsed source.
type span struct {
	start, end int
}

type fnSpan struct {
	name string
	decl span // the declaration header, up to the body
	loc  span // the whole function
}

type branchSpan struct {
	typ  string
	loc  span
	arms []span
}

// structure is the statement/branch/function skeleton of one source file,
// expressed in byte offsets so the engine's coverage ranges can be applied
// to it directly.
type structure struct {
	file       *file.File
	base       int
	statements []span
	functions  []fnSpan
	branches   []branchSpan
}

// analyze parses source text and collects its structural locations.
func analyze(path, src string) (*structure, error) {
	prg, err := parser.ParseFile(nil, path, src, 0, parser.WithDisableSourceMaps)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	st := &structure{file: prg.File, base: prg.File.Base()}
	c := &collector{st: st}
	for _, stmt := range prg.Body {
		c.walk(stmt)
	}
	return st, nil
}

// pos converts a byte offset to a position with a 1-based line and a 0-based
// column.
func (st *structure) pos(offset int) coverage.Pos {
	p := st.file.Position(offset)
	col := p.Column - 1
	if col < 0 {
		col = 0
	}
	return coverage.Pos{Line: p.Line, Column: col}
}

func (st *structure) span(n ast.Node) span {
	return span{start: int(n.Idx0()) - st.base, end: int(n.Idx1()) - st.base}
}

// collector descends the syntax tree gathering structural locations. The ast
// package ships no walker, so the recursion lives here.
type collector struct {
	st   *structure
	anon int
}

func (c *collector) addStatement(n ast.Node) {
	c.st.statements = append(c.st.statements, c.st.span(n))
}

func (c *collector) walk(n ast.Node) {
	if n == nil {
		return
	}
	switch x := n.(type) {
	case *ast.BlockStatement:
		c.walkStatements(x.List)

	case *ast.ExpressionStatement:
		c.addStatement(x)
		c.walk(x.Expression)

	case *ast.VariableStatement:
		c.addStatement(x)
		c.walkBindings(x.List)

	case *ast.LexicalDeclaration:
		c.addStatement(x)
		c.walkBindings(x.List)

	case *ast.ReturnStatement:
		c.addStatement(x)
		c.walk(x.Argument)

	case *ast.ThrowStatement:
		c.addStatement(x)
		c.walk(x.Argument)

	case *ast.BranchStatement:
		c.addStatement(x)

	case *ast.DebuggerStatement:
		c.addStatement(x)

	case *ast.IfStatement:
		c.addStatement(x)
		b := branchSpan{typ: "if", loc: c.st.span(x)}
		b.arms = append(b.arms, c.st.span(x.Consequent))
		if x.Alternate != nil {
			b.arms = append(b.arms, c.st.span(x.Alternate))
		}
		c.st.branches = append(c.st.branches, b)
		c.walk(x.Test)
		c.walk(x.Consequent)
		c.walk(x.Alternate)

	case *ast.SwitchStatement:
		c.addStatement(x)
		b := branchSpan{typ: "switch", loc: c.st.span(x)}
		for _, cs := range x.Body {
			b.arms = append(b.arms, c.st.span(cs))
		}
		c.st.branches = append(c.st.branches, b)
		c.walk(x.Discriminant)
		for _, cs := range x.Body {
			c.walk(cs.Test)
			c.walkStatements(cs.Consequent)
		}

	case *ast.ForStatement:
		c.addStatement(x)
		c.walkForInit(x.Initializer)
		c.walk(x.Test)
		c.walk(x.Update)
		c.walk(x.Body)

	case *ast.ForInStatement:
		c.addStatement(x)
		c.walkForInto(x.Into)
		c.walk(x.Source)
		c.walk(x.Body)

	case *ast.ForOfStatement:
		c.addStatement(x)
		c.walkForInto(x.Into)
		c.walk(x.Source)
		c.walk(x.Body)

	case *ast.WhileStatement:
		c.addStatement(x)
		c.walk(x.Test)
		c.walk(x.Body)

	case *ast.DoWhileStatement:
		c.addStatement(x)
		c.walk(x.Body)
		c.walk(x.Test)

	case *ast.TryStatement:
		c.addStatement(x)
		c.walk(x.Body)
		if x.Catch != nil {
			c.walk(x.Catch.Body)
		}
		if x.Finally != nil {
			c.walk(x.Finally)
		}

	case *ast.WithStatement:
		c.addStatement(x)
		c.walk(x.Object)
		c.walk(x.Body)

	case *ast.LabelledStatement:
		c.walk(x.Statement)

	case *ast.FunctionDeclaration:
		c.walk(x.Function)

	case *ast.ClassDeclaration:
		c.walk(x.Class)

	case *ast.FunctionLiteral:
		name := ""
		if x.Name != nil {
			name = string(x.Name.Name)
		}
		c.addFunction(name, x, x.Body)
		c.walkParams(x.ParameterList)
		c.walk(x.Body)

	case *ast.ArrowFunctionLiteral:
		c.addFunction("", x, x.Body)
		c.walkParams(x.ParameterList)
		c.walk(x.Body)

	case *ast.ExpressionBody:
		c.walk(x.Expression)

	case *ast.ClassLiteral:
		c.walk(x.SuperClass)
		for _, el := range x.Body {
			c.walkClassElement(el)
		}

	case *ast.ConditionalExpression:
		c.st.branches = append(c.st.branches, branchSpan{
			typ: "cond-expr",
			loc: span{start: int(x.Test.Idx0()) - c.st.base, end: int(x.Alternate.Idx1()) - c.st.base},
			arms: []span{
				c.st.span(x.Consequent),
				c.st.span(x.Alternate),
			},
		})
		c.walk(x.Test)
		c.walk(x.Consequent)
		c.walk(x.Alternate)

	case *ast.BinaryExpression:
		if x.Operator == token.LOGICAL_AND || x.Operator == token.LOGICAL_OR {
			c.st.branches = append(c.st.branches, branchSpan{
				typ:  "binary-expr",
				loc:  c.st.span(x),
				arms: []span{c.st.span(x.Left), c.st.span(x.Right)},
			})
		}
		c.walk(x.Left)
		c.walk(x.Right)

	case *ast.AssignExpression:
		c.walk(x.Left)
		c.walk(x.Right)

	case *ast.UnaryExpression:
		c.walk(x.Operand)

	case *ast.CallExpression:
		c.walk(x.Callee)
		c.walkExpressions(x.ArgumentList)

	case *ast.NewExpression:
		c.walk(x.Callee)
		c.walkExpressions(x.ArgumentList)

	case *ast.DotExpression:
		c.walk(x.Left)

	case *ast.BracketExpression:
		c.walk(x.Left)
		c.walk(x.Member)

	case *ast.SequenceExpression:
		c.walkExpressions(x.Sequence)

	case *ast.ArrayLiteral:
		c.walkExpressions(x.Value)

	case *ast.ObjectLiteral:
		for _, p := range x.Value {
			c.walkProperty(p)
		}

	case *ast.SpreadElement:
		c.walk(x.Expression)

	case *ast.TemplateLiteral:
		c.walk(x.Tag)
		c.walkExpressions(x.Expressions)

	case *ast.AwaitExpression:
		c.walk(x.Argument)

	case *ast.YieldExpression:
		c.walk(x.Argument)
	}
}

func (c *collector) walkStatements(list []ast.Statement) {
	for _, s := range list {
		c.walk(s)
	}
}

func (c *collector) walkExpressions(list []ast.Expression) {
	for _, e := range list {
		c.walk(e)
	}
}

// walkBindings descends declaration bindings so initializers keep their
// functions and branches, e.g. const f = () => a || b.
func (c *collector) walkBindings(list []*ast.Binding) {
	for _, b := range list {
		if b == nil {
			continue
		}
		c.walk(b.Target)
		c.walk(b.Initializer)
	}
}

func (c *collector) walkParams(params *ast.ParameterList) {
	if params == nil {
		return
	}
	c.walkBindings(params.List)
	c.walk(params.Rest)
}

func (c *collector) walkForInit(init ast.ForLoopInitializer) {
	switch x := init.(type) {
	case *ast.ForLoopInitializerExpression:
		c.walk(x.Expression)
	case *ast.ForLoopInitializerVarDeclList:
		c.walkBindings(x.List)
	case *ast.ForLoopInitializerLexicalDecl:
		c.walkBindings(x.LexicalDeclaration.List)
	}
}

func (c *collector) walkForInto(into ast.ForInto) {
	switch x := into.(type) {
	case *ast.ForIntoExpression:
		c.walk(x.Expression)
	case *ast.ForIntoVar:
		if x.Binding != nil {
			c.walk(x.Binding.Target)
			c.walk(x.Binding.Initializer)
		}
	case *ast.ForDeclaration:
		c.walk(x.Target)
	}
}

func (c *collector) walkProperty(p ast.Property) {
	switch x := p.(type) {
	case *ast.PropertyKeyed:
		c.walk(x.Key)
		c.walk(x.Value)
	case *ast.PropertyShort:
		c.walk(x.Initializer)
	case *ast.SpreadElement:
		c.walk(x.Expression)
	}
}

func (c *collector) walkClassElement(el ast.ClassElement) {
	switch x := el.(type) {
	case *ast.MethodDefinition:
		c.walk(x.Key)
		c.walk(x.Body)
	case *ast.FieldDefinition:
		c.walk(x.Key)
		c.walk(x.Initializer)
	case *ast.ClassStaticBlock:
		c.walk(x.Block)
	}
}

func (c *collector) addFunction(name string, fn ast.Node, body ast.Node) {
	if name == "" {
		name = fmt.Sprintf("(anonymous_%d)", c.anon)
		c.anon++
	}
	loc := c.st.span(fn)
	decl := span{start: loc.start, end: int(body.Idx0()) - c.st.base}
	c.st.functions = append(c.st.functions, fnSpan{name: name, decl: decl, loc: loc})
}
