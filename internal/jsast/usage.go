package jsast

import "strings"

// HTTPCall is one detected HTTP client invocation.
type HTTPCall struct {
	// Method is the HTTP method if the call site named one explicitly,
	// either via a member property (`axios.post(...)`) or a bare `fetch`
	// call, else "" when only a generic call such as `apiRequest(...)`
	// was seen.
	Method string
	// URL is the best-effort rendered URL argument.
	URL string
	// Authorization is the best-effort rendered value of an
	// "Authorization" (case-insensitive) key inside a "headers" object
	// literal passed alongside the URL.
	Authorization string
}

var httpMethodNames = map[string]string{
	"get": "GET", "post": "POST", "put": "PUT", "delete": "DELETE",
	"patch": "PATCH", "fetch": "fetch",
}

var httpIdentSubstrings = []string{"http", "fetch", "axios", "client", "api"}

// findHTTPCalls implements Pass 2 (HTTP call detection): it walks prog
// for calls whose callee looks like an HTTP client invocation, resolves
// the first argument through a small expression evaluator backed by the
// values Pass 1 resolved, and keeps the call only when the rendered
// argument looks URL-like.
func findHTTPCalls(prog *Program, values Values) []HTTPCall {
	u := &usageFinder{values: values}
	u.visitStmts(prog.Body)
	return u.calls
}

type usageFinder struct {
	values Values
	scope  []string
	calls  []HTTPCall
}

func (u *usageFinder) visitStmts(stmts []Stmt) {
	for _, s := range stmts {
		u.visitStmt(s)
	}
}

func (u *usageFinder) visitStmt(s Stmt) {
	switch n := s.(type) {
	case *VarDecl:
		for _, d := range n.Declarators {
			u.visitExpr(d.Init)
		}
	case *ExprStmt:
		u.visitExpr(n.X)
	case *FunctionDecl:
		u.scope = append(u.scope, n.Name)
		u.visitStmts(n.Body)
		u.scope = u.scope[:len(u.scope)-1]
	case *BlockStmt:
		u.visitStmts(n.Body)
	}
}

// visitExpr recurses broadly (unlike Pass 1's narrow dispatch) since
// call sites worth checking can appear anywhere an expression can.
func (u *usageFinder) visitExpr(x Expr) {
	switch n := x.(type) {
	case nil:
		return

	case *CallExpr:
		u.checkCall(n)
		u.visitExpr(n.Callee)
		for _, a := range n.Args {
			u.visitExpr(a)
		}

	case *FuncExpr:
		u.scope = append(u.scope, n.Name)
		u.visitStmts(n.Body)
		u.scope = u.scope[:len(u.scope)-1]

	case *AssignExpr:
		u.visitExpr(n.Target)
		u.visitExpr(n.Value)

	case *BinaryExpr:
		u.visitExpr(n.Left)
		u.visitExpr(n.Right)

	case *UnaryExpr:
		u.visitExpr(n.X)

	case *ParenExpr:
		u.visitExpr(n.X)

	case *MemberExpr:
		u.visitExpr(n.Object)
		if n.Computed {
			u.visitExpr(n.Index)
		}

	case *ObjectLit:
		for _, p := range n.Props {
			u.visitExpr(p.Value)
		}

	case *ArrayLit:
		for _, el := range n.Elements {
			u.visitExpr(el)
		}

	case *TemplateLit:
		for _, ex := range n.Exprs {
			u.visitExpr(ex)
		}
	}
}

func (u *usageFinder) checkCall(call *CallExpr) {
	method := ""
	isCandidate := false

	switch callee := call.Callee.(type) {
	case *MemberExpr:
		if !callee.Computed {
			if m, ok := httpMethodNames[callee.Property]; ok {
				method = m
				isCandidate = true
			}
		}

	case *Ident:
		if m, ok := httpMethodNames[strings.ToLower(callee.Name)]; ok {
			method = m
			isCandidate = true
			break
		}
		for _, sub := range httpIdentSubstrings {
			if strings.Contains(callee.Name, sub) {
				isCandidate = true
				break
			}
		}
	}

	if !isCandidate || len(call.Args) == 0 {
		return
	}

	url := u.resolve(call.Args[0])
	if !looksLikeURL(url) {
		return
	}

	hc := HTTPCall{Method: method, URL: url}
	for _, arg := range call.Args[1:] {
		if obj, ok := arg.(*ObjectLit); ok {
			if auth := u.findAuthHeader(obj); auth != "" {
				hc.Authorization = auth
			}
		}
	}
	u.calls = append(u.calls, hc)
}

func looksLikeURL(s string) bool {
	return strings.Contains(s, "/") ||
		strings.HasPrefix(s, "http") ||
		strings.HasPrefix(s, "./") ||
		strings.HasPrefix(s, "../") ||
		strings.Contains(s, "?") ||
		strings.Contains(s, "api") ||
		strings.Contains(s, "${")
}

// resolve is Pass 2's small expression evaluator: it concatenates "+"
// binaries, substitutes identifiers from the Pass 1 value map (falling
// back to "${name}" for anything unresolved), renders template literals
// by substituting each interpolation the same way, and recursively
// renders member accesses.
func (u *usageFinder) resolve(x Expr) string {
	switch n := x.(type) {
	case nil:
		return ""

	case *Literal:
		return n.Value

	case *Ident:
		key := scopeKey(u.scope) + "::" + n.Name
		if v, ok := u.values[key]; ok {
			return v
		}
		return "${" + n.Name + "}"

	case *ParenExpr:
		return u.resolve(n.X)

	case *TemplateLit:
		var b strings.Builder
		for i, q := range n.Quasis {
			b.WriteString(q)
			if i < len(n.Exprs) {
				b.WriteString(u.resolve(n.Exprs[i]))
			}
		}
		return b.String()

	case *BinaryExpr:
		return u.resolve(n.Left) + u.resolve(n.Right)

	case *UnaryExpr:
		return n.Op + u.resolve(n.X)

	case *MemberExpr:
		if n.Computed {
			return u.resolve(n.Object) + "[" + u.resolve(n.Index) + "]"
		}
		return u.resolve(n.Object) + "." + n.Property

	case *ThisExpr:
		return "this"

	default:
		return ""
	}
}

// findAuthHeader looks for a `headers` object literal property and
// resolves an "authorization" (case-insensitive) key within it.
func (u *usageFinder) findAuthHeader(obj *ObjectLit) string {
	for _, p := range obj.Props {
		if p.Key != "headers" {
			continue
		}
		nested, ok := p.Value.(*ObjectLit)
		if !ok {
			continue
		}
		for _, hp := range nested.Props {
			if strings.EqualFold(hp.Key, "authorization") {
				return u.resolve(hp.Value)
			}
		}
	}
	return ""
}
