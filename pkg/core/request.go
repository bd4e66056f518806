package core

import (
	"fmt"
	"maps"
	"net/url"
)

type Params map[string]any

// Request is a REST call before signing: the method, the path under the
// base URL and either a query or a JSON body.
type Request struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Query       Params `json:"query,omitempty"`
	Body        any    `json:"body,omitempty"`
	RequireAuth bool   `json:"require_auth"`
}

func NewRequest(method, path string) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Query:  make(Params),
	}
}

func (r *Request) SetQuery(key string, value any) *Request {
	if r.Query == nil {
		r.Query = make(Params)
	}
	r.Query[key] = value
	return r
}

func (r *Request) SetBody(body any) *Request {
	r.Body = body
	return r
}

func (r *Request) SetRequireAuth(require bool) *Request {
	r.RequireAuth = require
	return r
}

func (r *Request) SetQueryParams(params Params) *Request {
	if r.Query == nil {
		r.Query = make(Params)
	}
	maps.Copy(r.Query, params)
	return r
}

// Values converts the query to url.Values. Nil values are skipped.
func (r *Request) Values() url.Values {
	values := make(url.Values, len(r.Query))
	for k, v := range r.Query {
		if v == nil {
			continue
		}
		values.Set(k, fmt.Sprint(v))
	}
	return values
}
