package jsast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze_FetchWithTemplateURL(t *testing.T) {
	res, err := Analyze("var base = \"https://api.example.com\";\nfetch(`${base}/v1/users`);")
	require.NoError(t, err)
	require.Len(t, res.HTTPCalls, 1)
	assert.Equal(t, "fetch", res.HTTPCalls[0].Method)
	assert.Equal(t, "https://api.example.com/v1/users", res.HTTPCalls[0].URL)
}

func TestAnalyze_FetchWithConcatenatedURL(t *testing.T) {
	res, err := Analyze(`
		var API = "https://api.example.com/v1";
		fetch(API + "/users");
	`)
	require.NoError(t, err)
	require.Len(t, res.HTTPCalls, 1)
	assert.Equal(t, "https://api.example.com/v1/users", res.HTTPCalls[0].URL)
}

func TestAnalyze_AxiosPostWithAuthHeader(t *testing.T) {
	res, err := Analyze(`
		var token = "bearer-xyz";
		axios.post("https://api.example.com/v1/orders", { headers: { Authorization: token } });
	`)
	require.NoError(t, err)
	require.Len(t, res.HTTPCalls, 1)
	call := res.HTTPCalls[0]
	assert.Equal(t, "POST", call.Method)
	assert.Equal(t, "https://api.example.com/v1/orders", call.URL)
	assert.Equal(t, "bearer-xyz", call.Authorization)
}

func TestAnalyze_GenericIdentCallNameHeuristic(t *testing.T) {
	res, err := Analyze(`apiRequest("/v1/status");`)
	require.NoError(t, err)
	require.Len(t, res.HTTPCalls, 1)
	assert.Equal(t, "", res.HTTPCalls[0].Method)
	assert.Equal(t, "/v1/status", res.HTTPCalls[0].URL)
}

func TestAnalyze_NonURLArgumentIsSkipped(t *testing.T) {
	res, err := Analyze(`client.get("not-a-url-just-a-key");`)
	require.NoError(t, err)
	assert.Empty(t, res.HTTPCalls)
}

func TestAnalyze_NonHTTPCallsIgnored(t *testing.T) {
	res, err := Analyze(`console.log("https://example.com");`)
	require.NoError(t, err)
	assert.Empty(t, res.HTTPCalls)
}

func TestAnalyze_UnresolvedIdentifierFallsBackToPlaceholder(t *testing.T) {
	res, err := Analyze(`fetch(unknownBase + "/v1/ping");`)
	require.NoError(t, err)
	require.Len(t, res.HTTPCalls, 1)
	assert.Equal(t, "${unknownBase}/v1/ping", res.HTTPCalls[0].URL)
}

func TestAnalyze_CallInsideFunctionBody(t *testing.T) {
	res, err := Analyze(`
		function loadUsers() {
			return fetch("https://api.example.com/v1/users");
		}
	`)
	require.NoError(t, err)
	require.Len(t, res.HTTPCalls, 1)
	assert.Equal(t, "https://api.example.com/v1/users", res.HTTPCalls[0].URL)
}

func TestAnalyze_ParseFailureReturnsError(t *testing.T) {
	_, err := Analyze(`function( { `)
	assert.Error(t, err)
}
