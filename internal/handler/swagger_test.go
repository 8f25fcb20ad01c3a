package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDocsEcho() *echo.Echo {
	e := echo.New()
	RegisterDocsRoutes(e, NewDocsHandler(DocsServers("8080", "https://layouts.example.com")))
	return e
}

func TestDocsServers(t *testing.T) {
	assert.Equal(t, []Server{
		{URL: "http://localhost:8080/api/v1", Description: "Local Development"},
	}, DocsServers("8080", ""))

	servers := DocsServers("9000", "https://layouts.example.com")
	require.Len(t, servers, 2)
	assert.Equal(t, "https://layouts.example.com/api/v1", servers[1].URL)
}

func TestServeOpenAPI3Spec(t *testing.T) {
	e := newDocsEcho()
	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var spec map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spec))
	assert.Equal(t, "3.0.3", spec["openapi"])

	servers := spec["servers"].([]interface{})
	assert.Len(t, servers, 2)

	paths := spec["paths"].(map[string]interface{})
	for _, p := range []string{"/layouts", "/layouts/{id}", "/layouts/{id}/share"} {
		assert.Contains(t, paths, p)
	}

	components := spec["components"].(map[string]interface{})
	assert.Contains(t, components["schemas"], "handler.ProblemDetails")
	assert.Contains(t, components["securitySchemes"], "BearerAuth")
}

func TestServeOpenAPI3Spec_BodyBecomesRequestBody(t *testing.T) {
	e := newDocsEcho()
	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var spec struct {
		Paths map[string]map[string]struct {
			Parameters  []map[string]interface{}          `json:"parameters"`
			RequestBody map[string]interface{}            `json:"requestBody"`
			Responses   map[string]map[string]interface{} `json:"responses"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spec))

	put := spec.Paths["/layouts/{id}"]["put"]
	require.Len(t, put.Parameters, 1)
	assert.Equal(t, "path", put.Parameters[0]["in"])
	assert.Equal(t, map[string]interface{}{"type": "string"}, put.Parameters[0]["schema"])

	content := put.RequestBody["content"].(map[string]interface{})
	schema := content["application/json"].(map[string]interface{})["schema"].(map[string]interface{})
	assert.Equal(t, "#/components/schemas/handler.UpdateLayoutRequest", schema["$ref"])

	conflict := put.Responses["412"]
	assert.NotContains(t, conflict, "schema")
	assert.Contains(t, conflict, "content")

	list := spec.Paths["/layouts"]["get"]
	assert.Empty(t, list.Parameters)
	assert.Nil(t, list.RequestBody)
}

func TestSwaggerUI_ServesDocJSON(t *testing.T) {
	e := newDocsEcho()
	req := httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "2.0", doc["swagger"])
	assert.Equal(t, "/api/v1", doc["basePath"])
}
