package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxBodyBytes caps every JSON body the guards inspect.
const MaxBodyBytes = 1 << 20

const ctxJSONBodyKey = "middleware.json_body"

var errBodyTooLarge = errors.New("request body too large")

// jsonBody is the request body read once and shared by the guards. value is
// nil when the body is empty or not JSON.
type jsonBody struct {
	raw   []byte
	value interface{}
}

func loadJSONBody(c *gin.Context) (*jsonBody, error) {
	if v, ok := c.Get(ctxJSONBodyKey); ok {
		return v.(*jsonBody), nil
	}

	jb := &jsonBody{}
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodyBytes+1))
		_ = c.Request.Body.Close()
		if err != nil {
			return nil, err
		}
		if len(raw) > MaxBodyBytes {
			return nil, errBodyTooLarge
		}
		jb.raw = raw
		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
			dec := json.NewDecoder(bytes.NewReader(trimmed))
			dec.UseNumber()
			var v interface{}
			if err := dec.Decode(&v); err == nil {
				jb.value = v
			}
		}
	}
	jb.restore(c)
	c.Set(ctxJSONBodyKey, jb)
	return jb, nil
}

// replace re-encodes v as the body seen by later handlers.
func (jb *jsonBody) replace(c *gin.Context, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	jb.raw = raw
	jb.value = v
	jb.restore(c)
	return nil
}

func (jb *jsonBody) restore(c *gin.Context) {
	c.Request.Body = io.NopCloser(bytes.NewReader(jb.raw))
	c.Request.ContentLength = int64(len(jb.raw))
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
