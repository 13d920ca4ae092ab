package openapi

import (
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// BasePath is the mount point of the security API.
const BasePath = "/api/v1/security"

// Access is the gate a route sits behind.
type Access string

const (
	// AccessIdentity requires a verified identity assertion.
	AccessIdentity Access = "identity"
	// AccessSession additionally requires a live admin session.
	AccessSession Access = "session"
	// AccessOperator requires an identity carrying the operator role.
	AccessOperator Access = "operator"
)

// Route describes one endpoint of the security API.
type Route struct {
	Method      string
	Path        string // relative to BasePath, chi-style placeholders
	OperationID string
	Summary     string
	Tag         string
	Access      Access
	Params      []Param
	Request     string // component schema name, empty when there is no body
	Status      int
	Response    *openapi3.SchemaRef
}

// Param is a path or query parameter.
type Param struct {
	Name        string
	In          string // "path" or "query"
	Description string
}

func pathParam(name, desc string) Param  { return Param{Name: name, In: "path", Description: desc} }
func queryParam(name, desc string) Param { return Param{Name: name, In: "query", Description: desc} }

func listOf(item string) *openapi3.SchemaRef {
	return object(openapi3.Schemas{
		"resource": arrayOf(ref(item)),
		"meta":     ref("ListMeta"),
	})
}

var (
	adminParam    = pathParam("adminID", "Administrator identity.")
	ipParam       = pathParam("ip", "IPv4 or IPv6 address.")
	incidentParam = pathParam("incidentID", "Incident ID.")
	limitParam    = queryParam("limit", "Maximum records to return.")
	windowParam   = queryParam("window", "Trailing window, in seconds or as a duration such as 6h. Defaults to 24h.")
)

// Routes is the full route table of the security API. The server mounts
// exactly these routes; the document below is generated from the same table.
var Routes = []Route{
	// Own session
	{http.MethodPost, "/sessions", "createSession", "Open an admin session for the asserted identity", "sessions", AccessIdentity,
		nil, "CreateSessionRequest", http.StatusCreated, ref("CreatedSession")},
	{http.MethodGet, "/sessions/current", "currentSession", "Verify the presented session", "sessions", AccessSession,
		nil, "", http.StatusOK, ref("VerifyResult")},
	{http.MethodDelete, "/sessions/current", "logout", "Invalidate the presented session", "sessions", AccessSession,
		nil, "", http.StatusOK, object(openapi3.Schemas{"success": boolean("")})},
	{http.MethodPost, "/sessions/current/rotate", "rotateSession", "Replace the presented session token", "sessions", AccessSession,
		nil, "", http.StatusOK, ref("SessionCredentials")},

	// Own actions
	{http.MethodPost, "/actions", "recordAction", "Record a privileged action", "actions", AccessSession,
		nil, "ActionRequest", http.StatusCreated, ref("AdminAction")},
	{http.MethodGet, "/actions", "listOwnActions", "List the caller's recent actions", "actions", AccessSession,
		[]Param{limitParam}, "", http.StatusOK, listOf("AdminAction")},

	// Session administration
	{http.MethodGet, "/sessions", "listSessions", "List live sessions", "sessions", AccessOperator,
		[]Param{queryParam("admin_id", "Restrict to one administrator.")}, "", http.StatusOK, listOf("Session")},
	{http.MethodPost, "/sessions/invalidate-all", "invalidateAllSessions", "End every session now", "sessions", AccessOperator,
		nil, "", http.StatusOK, object(openapi3.Schemas{"invalidated": integer("")})},
	{http.MethodGet, "/admins/{adminID}/events", "listSessionEvents", "Session event history of an administrator", "sessions", AccessOperator,
		[]Param{adminParam, limitParam}, "", http.StatusOK, listOf("SessionEvent")},

	// Failures and blocks
	{http.MethodPost, "/failures", "recordFailure", "Report a failed authentication attempt", "blocks", AccessOperator,
		nil, "FailureReport", http.StatusCreated, object(openapi3.Schemas{"blocked": boolean("The address is now blocked.")})},
	{http.MethodGet, "/blocks", "listBlocks", "List IP blocks", "blocks", AccessOperator,
		[]Param{queryParam("include_expired", "Include blocks that already ended.")}, "", http.StatusOK, listOf("IPBlock")},
	{http.MethodPost, "/blocks/cleanup", "cleanupBlocks", "Remove expired blocks", "blocks", AccessOperator,
		nil, "", http.StatusOK, object(openapi3.Schemas{"removed": integer("")})},
	{http.MethodGet, "/blocks/{ip}", "checkBlock", "Check whether an address is blocked", "blocks", AccessOperator,
		[]Param{ipParam}, "", http.StatusOK, object(openapi3.Schemas{
			"ip_address": str(""),
			"blocked":    boolean(""),
			"block":      ref("IPBlock"),
		})},
	{http.MethodDelete, "/blocks/{ip}", "unblock", "Lift a block and resolve its incident", "blocks", AccessOperator,
		[]Param{ipParam}, "", http.StatusOK, object(openapi3.Schemas{"unblocked": boolean("")})},

	// Incidents
	{http.MethodGet, "/incidents", "listIncidents", "List pending incidents, or every incident of one address", "incidents", AccessOperator,
		[]Param{queryParam("ip", "Address whose history to list."), limitParam}, "", http.StatusOK, listOf("BlockIncident")},
	{http.MethodGet, "/incidents/{incidentID}", "getIncident", "Look up an incident", "incidents", AccessOperator,
		[]Param{incidentParam}, "", http.StatusOK, ref("BlockIncident")},
	{http.MethodPost, "/incidents/{incidentID}/resolve", "resolveIncident", "Resolve an incident", "incidents", AccessOperator,
		[]Param{incidentParam}, "ResolveRequest", http.StatusOK, object(openapi3.Schemas{"resolved": boolean("")})},

	// Assessments
	{http.MethodGet, "/admins/{adminID}/actions", "listAdminActions", "List an administrator's recent actions", "actions", AccessOperator,
		[]Param{adminParam, limitParam}, "", http.StatusOK, listOf("AdminAction")},
	{http.MethodGet, "/admins/{adminID}/assessment", "assessAdmin", "Score an administrator's recent actions", "assessments", AccessOperator,
		[]Param{adminParam, windowParam}, "", http.StatusOK, ref("AnomalyAssessment")},
	{http.MethodPost, "/admins/{adminID}/alerts", "alertAdmin", "Assess and alert when severe enough", "assessments", AccessOperator,
		[]Param{adminParam, windowParam}, "", http.StatusOK, object(openapi3.Schemas{
			"assessment": ref("AnomalyAssessment"),
			"alert":      ref("AlertResult"),
		})},

	// Mass invalidation
	{http.MethodGet, "/schedule/invalidation", "getInvalidationSchedule", "Show the pending mass invalidation", "schedule", AccessOperator,
		nil, "", http.StatusOK, object(openapi3.Schemas{"scheduled": boolean(""), "at": dateTime("")})},
	{http.MethodPut, "/schedule/invalidation", "setInvalidationSchedule", "Schedule a mass invalidation", "schedule", AccessOperator,
		nil, "Schedule", http.StatusOK, object(openapi3.Schemas{"scheduled": boolean(""), "at": dateTime("")})},
	{http.MethodDelete, "/schedule/invalidation", "clearInvalidationSchedule", "Cancel the pending mass invalidation", "schedule", AccessOperator,
		nil, "", http.StatusOK, object(openapi3.Schemas{"cleared": boolean("")})},
}

// GenerateSecuritySpec builds the OpenAPI 3.1 document for the security API.
func GenerateSecuritySpec(baseURL, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "adminguard security API",
			Description: "Admin session security, IP blocking, incident handling and action anomaly assessment.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"identityAssertion": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "Signed identity assertion from the upstream identity provider.",
			},
		},
		"adminSession": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "header",
				Name: "X-Admin-Session",
			},
		},
		"adminSessionVerifier": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:        "apiKey",
				In:          "header",
				Name:        "X-Admin-Session-Verifier",
				Description: "Verifier issued with the session token. A token presented without it is treated as replayed.",
			},
		},
	}
	doc.Components = &components
	doc.Paths = openapi3.NewPaths()

	for _, rt := range Routes {
		addRoute(doc, rt)
	}
	return doc
}

// Bodies that may be omitted entirely.
var optionalBody = map[string]bool{
	"CreateSessionRequest": true,
	"ResolveRequest":       true,
}

// addRoute attaches one route's operation to its path item, creating the
// item on first use.
func addRoute(doc *openapi3.T, rt Route) {
	path := BasePath + rt.Path
	item := doc.Paths.Value(path)
	if item == nil {
		item = &openapi3.PathItem{}
		doc.Paths.Set(path, item)
	}

	op := &openapi3.Operation{
		Tags:        []string{rt.Tag},
		Summary:     rt.Summary,
		OperationID: rt.OperationID,
		Parameters:  parameters(rt.Params),
		Responses:   newResponses(rt.Status, rt.Response),
		Security:    security(rt.Access),
	}
	if rt.Request != "" {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: &openapi3.RequestBody{
				Required: !optionalBody[rt.Request],
				Content:  openapi3.NewContentWithJSONSchemaRef(ref(rt.Request)),
			},
		}
	}
	item.SetOperation(rt.Method, op)
}

func parameters(params []Param) openapi3.Parameters {
	if len(params) == 0 {
		return nil
	}
	out := make(openapi3.Parameters, 0, len(params))
	for _, p := range params {
		out = append(out, &openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:        p.Name,
				In:          p.In,
				Description: p.Description,
				Required:    p.In == "path",
				Schema:      str(""),
			},
		})
	}
	return out
}

func security(access Access) *openapi3.SecurityRequirements {
	req := openapi3.SecurityRequirement{"identityAssertion": {}}
	if access == AccessSession {
		req["adminSession"] = []string{}
		req["adminSessionVerifier"] = []string{}
	}
	return &openapi3.SecurityRequirements{req}
}

// newResponses builds the success response plus the error responses every
// route can produce.
func newResponses(status int, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	ok := http.StatusText(status)
	responses.Set(fmt.Sprint(status), &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &ok,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := ref("ErrorResponse")
	for _, code := range []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusTooManyRequests,
		http.StatusServiceUnavailable,
	} {
		desc := http.StatusText(code)
		responses.Set(fmt.Sprint(code), &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
