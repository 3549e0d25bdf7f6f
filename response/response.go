// Package response is the one place HTTP handlers and middleware format
// a JSON envelope, mirroring the teacher's response package: a small
// Code value carries both the machine-readable code and a human
// message, and ResponseJSON writes it with the matching HTTP status.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Code struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// WithMsg returns a copy of c with Msg replaced, leaving the shared
// package-level Code vars untouched.
func (c Code) WithMsg(msg string) Code {
	c.Msg = msg
	return c
}

var (
	CodeSuccess        = Code{Code: 0, Msg: "ok"}
	CodeBadRequest      = Code{Code: 40000, Msg: "bad request"}
	CodeNotFound        = Code{Code: 40400, Msg: "not found"}
	CodeContextTimeout  = Code{Code: 50800, Msg: "request timeout"}
	CodeInternal        = Code{Code: 50000, Msg: "internal error"}
	CodeServiceUnavail  = Code{Code: 50300, Msg: "service unavailable"}
)

// httpStatus maps a Code to the status written for it. Codes outside
// this table fall back to 200 so a handler can report a domain-level
// failure in the body without forcing a non-2xx transport status.
func httpStatus(code Code) int {
	switch code.Code {
	case CodeSuccess.Code:
		return http.StatusOK
	case CodeBadRequest.Code:
		return http.StatusBadRequest
	case CodeNotFound.Code:
		return http.StatusNotFound
	case CodeContextTimeout.Code:
		return http.StatusGatewayTimeout
	case CodeServiceUnavail.Code:
		return http.StatusServiceUnavailable
	case CodeInternal.Code:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// ResponseJSON writes code as a JSON envelope, optionally attaching data.
func ResponseJSON(c *gin.Context, code Code, data ...any) {
	body := gin.H{"code": code.Code, "msg": code.Msg}
	if len(data) > 0 {
		body["data"] = data[0]
	}
	c.JSON(httpStatus(code), body)
}
