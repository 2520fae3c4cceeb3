// Package relation parses the structured data a client application publishes
// over its ingress relation into a RouteRequest. Payloads are validated
// against a JSON schema so a misbehaving client is rejected with a typed
// error instead of being inspected field by field at runtime.
package relation

import (
	"encoding/json"
	"fmt"
	"net"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wudi/ingress-operator/internal/registry"
	"github.com/wudi/ingress-operator/internal/validate"
)

// payloadSchema validates the relation data shape before any field is read.
// Prefix and path are pattern-restricted: both end up interpolated into the
// proxy's rule expressions, so the charset must not be able to escape a
// Host/PathPrefix matcher.
var payloadSchema = `{
  "type": "object",
  "required": ["mode"],
  "properties": {
    "mode": {"enum": ["per-app", "per-unit", "route"]},
    "prefix": {"type": "string", "maxLength": 63, "pattern": "` + validate.PrefixPattern + `"},
    "path": {"type": "string", "maxLength": 253, "pattern": "` + validate.PathPattern + `"},
    "backends": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    }
  },
  "additionalProperties": false
}`

var clientIDPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// MalformedRequestError reports relation data that failed validation. The
// offending client is excluded from resolution; other clients are unaffected.
type MalformedRequestError struct {
	ClientID string
	Reason   string
}

func (e *MalformedRequestError) Error() string {
	return fmt.Sprintf("malformed route request from %q: %s", e.ClientID, e.Reason)
}

// Parser validates and decodes relation payloads.
type Parser struct {
	schema *jsonschema.Schema
}

// payload mirrors the JSON shape published by clients.
type payload struct {
	Mode     string   `json:"mode"`
	Prefix   string   `json:"prefix"`
	Path     string   `json:"path"`
	Backends []string `json:"backends"`
}

// NewParser compiles the payload schema.
func NewParser() (*Parser, error) {
	var doc any
	if err := json.Unmarshal([]byte(payloadSchema), &doc); err != nil {
		return nil, fmt.Errorf("parse payload schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("route-request.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("route-request.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Parser{schema: schema}, nil
}

// Parse decodes one client's relation data into a RouteRequest. Any
// validation failure returns a *MalformedRequestError with the client named.
func (p *Parser) Parse(clientID string, data []byte) (registry.RouteRequest, error) {
	if !clientIDPattern.MatchString(clientID) {
		return registry.RouteRequest{}, &MalformedRequestError{
			ClientID: clientID,
			Reason:   "client id must be a lowercase DNS label",
		}
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return registry.RouteRequest{}, &MalformedRequestError{
			ClientID: clientID,
			Reason:   fmt.Sprintf("invalid JSON: %v", err),
		}
	}
	if err := p.schema.Validate(doc); err != nil {
		return registry.RouteRequest{}, &MalformedRequestError{
			ClientID: clientID,
			Reason:   err.Error(),
		}
	}

	var pl payload
	if err := json.Unmarshal(data, &pl); err != nil {
		return registry.RouteRequest{}, &MalformedRequestError{
			ClientID: clientID,
			Reason:   fmt.Sprintf("decode: %v", err),
		}
	}

	for _, addr := range pl.Backends {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return registry.RouteRequest{}, &MalformedRequestError{
				ClientID: clientID,
				Reason:   fmt.Sprintf("backend %q is not host:port", addr),
			}
		}
	}

	mode := registry.Mode(pl.Mode)
	if mode == registry.ModeRoute {
		if pl.Path == "" {
			return registry.RouteRequest{}, &MalformedRequestError{
				ClientID: clientID,
				Reason:   "route mode requires a path",
			}
		}
		if err := validate.RoutePath(pl.Path); err != nil {
			return registry.RouteRequest{}, &MalformedRequestError{
				ClientID: clientID,
				Reason:   err.Error(),
			}
		}
	} else if pl.Path != "" {
		return registry.RouteRequest{}, &MalformedRequestError{
			ClientID: clientID,
			Reason:   fmt.Sprintf("path is only valid in route mode, not %q", pl.Mode),
		}
	}

	prefix := pl.Prefix
	if prefix == "" {
		prefix = clientID
	}
	// The schema already constrains the charset; this catches renderer-owned
	// names like the HTTPS redirect router.
	if err := validate.RoutePrefix(prefix); err != nil {
		return registry.RouteRequest{}, &MalformedRequestError{
			ClientID: clientID,
			Reason:   err.Error(),
		}
	}

	return registry.RouteRequest{
		ClientID: clientID,
		Mode:     mode,
		Prefix:   prefix,
		Path:     pl.Path,
		Backends: pl.Backends,
	}, nil
}
