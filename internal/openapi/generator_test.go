package openapi

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"testing"
)

func TestGenerateSecuritySpec_Info(t *testing.T) {
	doc := GenerateSecuritySpec("http://localhost:8080", "1.2.3")

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("OpenAPI version = %q, want %q", doc.OpenAPI, "3.1.0")
	}
	if doc.Info == nil || doc.Info.Version != "1.2.3" {
		t.Fatalf("Info = %+v", doc.Info)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:8080" {
		t.Errorf("Servers not set correctly")
	}
}

func TestGenerateSecuritySpec_EveryRouteDocumented(t *testing.T) {
	doc := GenerateSecuritySpec("", "dev")

	for _, rt := range Routes {
		item := doc.Paths.Value(BasePath + rt.Path)
		if item == nil {
			t.Errorf("%s %s: path missing", rt.Method, rt.Path)
			continue
		}
		op := item.GetOperation(rt.Method)
		if op == nil {
			t.Errorf("%s %s: operation missing", rt.Method, rt.Path)
			continue
		}
		if op.OperationID != rt.OperationID {
			t.Errorf("%s %s: operationId = %q, want %q", rt.Method, rt.Path, op.OperationID, rt.OperationID)
		}
		if op.Responses.Value("401") == nil || op.Responses.Value("503") == nil {
			t.Errorf("%s %s: missing standard error responses", rt.Method, rt.Path)
		}
	}
}

func TestRoutes_UniqueOperationIDs(t *testing.T) {
	seen := map[string]bool{}
	for _, rt := range Routes {
		if seen[rt.OperationID] {
			t.Errorf("duplicate operationId %q", rt.OperationID)
		}
		seen[rt.OperationID] = true

		if !strings.HasPrefix(rt.Path, "/") {
			t.Errorf("%s: path %q must start with /", rt.OperationID, rt.Path)
		}
	}
}

func TestRoutes_PathParamsDeclared(t *testing.T) {
	placeholder := regexp.MustCompile(`\{(\w+)\}`)
	for _, rt := range Routes {
		declared := map[string]bool{}
		for _, p := range rt.Params {
			if p.In == "path" {
				declared[p.Name] = true
			}
		}
		for _, m := range placeholder.FindAllStringSubmatch(rt.Path, -1) {
			if !declared[m[1]] {
				t.Errorf("%s: path parameter %q not declared", rt.OperationID, m[1])
			}
		}
	}
}

func TestGenerateSecuritySpec_SecurityRequirements(t *testing.T) {
	doc := GenerateSecuritySpec("", "dev")

	for _, name := range []string{"identityAssertion", "adminSession", "adminSessionVerifier"} {
		if _, ok := doc.Components.SecuritySchemes[name]; !ok {
			t.Errorf("security scheme %q missing", name)
		}
	}

	current := doc.Paths.Value(BasePath + "/sessions/current").Get
	if current.Security == nil || len(*current.Security) != 1 {
		t.Fatalf("current session security = %v", current.Security)
	}
	if _, ok := (*current.Security)[0]["adminSession"]; !ok {
		t.Error("session routes must require adminSession")
	}
	if _, ok := (*current.Security)[0]["adminSessionVerifier"]; !ok {
		t.Error("session routes must require adminSessionVerifier")
	}

	create := doc.Paths.Value(BasePath + "/sessions").Post
	if _, ok := (*create.Security)[0]["adminSession"]; ok {
		t.Error("session creation must not require an existing session")
	}
}

func TestGenerateSecuritySpec_RequestBodies(t *testing.T) {
	doc := GenerateSecuritySpec("", "dev")

	create := doc.Paths.Value(BasePath + "/sessions").Post
	if create.RequestBody == nil || create.RequestBody.Value.Required {
		t.Error("session creation body should be optional")
	}
	failure := doc.Paths.Value(BasePath + "/failures").Post
	if failure.RequestBody == nil || !failure.RequestBody.Value.Required {
		t.Error("failure report body should be required")
	}
	if doc.Paths.Value(BasePath+"/blocks").Get.RequestBody != nil {
		t.Error("GET should carry no body")
	}
}

func TestGenerateSecuritySpec_RefsResolve(t *testing.T) {
	doc := GenerateSecuritySpec("", "dev")
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	refPattern := regexp.MustCompile(`#/components/schemas/(\w+)`)
	matches := refPattern.FindAllStringSubmatch(string(b), -1)
	if len(matches) == 0 {
		t.Fatal("document contains no schema references")
	}
	for _, m := range matches {
		if _, ok := doc.Components.Schemas[m[1]]; !ok {
			t.Errorf("reference to undefined schema %q", m[1])
		}
	}
}

func TestNewResponses_SuccessStatus(t *testing.T) {
	r := newResponses(http.StatusCreated, str(""))
	got := r.Value("201")
	if got == nil || got.Value.Description == nil || *got.Value.Description != "Created" {
		t.Fatalf("201 response = %+v", got)
	}
	if r.Value("200") != nil {
		t.Error("unexpected 200 response")
	}
}
