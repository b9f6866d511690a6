package jsast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_TopLevelConcatenation(t *testing.T) {
	prog, err := Parse(`var x = 1 + 2;`)
	require.NoError(t, err)

	values := extract(prog)
	assert.Equal(t, "12", values["::x"])
}

func TestExtract_NestedObjectLiteral(t *testing.T) {
	prog, err := Parse(`var cfg = { api: { key: "super-secret" } };`)
	require.NoError(t, err)

	values := extract(prog)
	assert.Equal(t, "super-secret", values["::cfg.api.key"])
}

func TestExtract_ArrayLiteral(t *testing.T) {
	prog, err := Parse(`var hosts = ["a.example.com", "b.example.com"];`)
	require.NoError(t, err)

	values := extract(prog)
	assert.Equal(t, "a.example.com", values["::hosts[0]"])
	assert.Equal(t, "b.example.com", values["::hosts[1]"])
}

func TestExtract_FunctionScopedVariable(t *testing.T) {
	prog, err := Parse(`
		function init() {
			var base = "https://api.example.com";
		}
	`)
	require.NoError(t, err)

	values := extract(prog)
	assert.Equal(t, "https://api.example.com", values["init::base"])
}

func TestExtract_ThisPropertyAssignment(t *testing.T) {
	prog, err := Parse(`
		function Client() {
			this.token = "abc123";
		}
	`)
	require.NoError(t, err)

	values := extract(prog)
	assert.Equal(t, "abc123", values["Client::this.token"])
}

func TestExtract_TemplateLiteralWithInterpolationIsMarked(t *testing.T) {
	prog, err := Parse("var base = \"https://api.example.com\";\nvar url = `${base}/v1/users`;")
	require.NoError(t, err)

	values := extract(prog)
	assert.Equal(t, "https://api.example.com", values["::base"])
	assert.Equal(t, "<interpolated>", values["::url"])
}

func TestExtract_TwoArgConfigIdiom(t *testing.T) {
	prog, err := Parse(`client.configure("auth", { token: "xyz" });`)
	require.NoError(t, err)

	values := extract(prog)
	assert.Equal(t, "xyz", values["::auth.token"])
}

func TestExtract_ClassMethodScope(t *testing.T) {
	prog, err := Parse(`
		class ApiClient {
			login() {
				var path = "/login";
			}
		}
	`)
	require.NoError(t, err)

	values := extract(prog)
	assert.Equal(t, "/login", values["ApiClient::login::path"])
}

func TestExtract_LogicalOrRecordsBothSides(t *testing.T) {
	prog, err := Parse(`var base = primary || "https://fallback.example.com";`)
	require.NoError(t, err)

	values := extract(prog)
	assert.Equal(t, "primary", values["::base (left)"])
	assert.Equal(t, "https://fallback.example.com", values["::base (right)"])
}

func TestExtract_OtherBinaryJoinsOperatorSpelling(t *testing.T) {
	prog, err := Parse(`var x = 5 - 2;`)
	require.NoError(t, err)

	values := extract(prog)
	assert.Equal(t, "5-2", values["::x"])
}

func TestExtract_ArrowFunctionBodyVisited(t *testing.T) {
	prog, err := Parse(`
		var run = () => {
			var secret = "inner-value";
		};
	`)
	require.NoError(t, err)

	values := extract(prog)
	assert.Equal(t, "inner-value", values["run::secret"])
}

func TestExtract_CallFirstArgRecursion(t *testing.T) {
	prog, err := Parse(`var result = doThing("inner-value");`)
	require.NoError(t, err)

	values := extract(prog)
	assert.Equal(t, "inner-value", values["::result()"])
}

func TestExtract_MemberExpressionRendersIdentDotProp(t *testing.T) {
	prog, err := Parse(`var v = process.env;`)
	require.NoError(t, err)

	values := extract(prog)
	assert.Equal(t, "process.env", values["::v"])
}
