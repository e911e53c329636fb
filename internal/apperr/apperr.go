// Package apperr maps internal errors onto stable codes shared by the
// HTTP API and WebSocket error frames.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

type Code string

const (
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeInvalidMessage    Code = "INVALID_MESSAGE"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeRoomNotFound      Code = "ROOM_NOT_FOUND"
	CodeInvalidCode       Code = "INVALID_MEETING_CODE"
	CodeMeetingEnded      Code = "MEETING_ENDED"
	CodeUnavailable       Code = "SERVICE_UNAVAILABLE"
	CodeDuplicateConn     Code = "DUPLICATE_CONNECTION"
	CodeUnknownTarget     Code = "UNKNOWN_TARGET"
	CodeNotJoined         Code = "NOT_JOINED"
	CodeMediaAcquisition  Code = "MEDIA_ACQUISITION_FAILED"
	CodePeerConnectFailed Code = "PEER_CONNECTION_FAILED"
)

type AppError struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Cause      error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Frame renders e as a WebSocket error message.
func (e *AppError) Frame() *protocol.Error {
	return &protocol.Error{Code: string(e.Code), Message: e.Message}
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus(code)}
}

func Wrap(code Code, err error) *AppError {
	return &AppError{Code: code, Message: err.Error(), HTTPStatus: httpStatus(code), Cause: err}
}

var mapping = []struct {
	target error
	code   Code
}{
	{protocol.ErrMalformed, CodeInvalidMessage},
	{protocol.ErrUnknownType, CodeInvalidMessage},
	{protocol.ErrInvalidMessage, CodeInvalidMessage},
	{domain.ErrIDEmpty, CodeInvalidMessage},
	{domain.ErrIDTooLong, CodeInvalidMessage},
	{domain.ErrUnauthenticated, CodeUnauthorized},
	{domain.ErrIdentityMismatch, CodeForbidden},
	{domain.ErrRateLimited, CodeRateLimited},
	{domain.ErrMeetingNotFound, CodeRoomNotFound},
	{domain.ErrInvalidMeetingCode, CodeInvalidCode},
	{domain.ErrMeetingEnded, CodeMeetingEnded},
	{domain.ErrDuplicateConnection, CodeDuplicateConn},
	{domain.ErrUnknownTarget, CodeUnknownTarget},
	{domain.ErrNotJoined, CodeNotJoined},
	{domain.ErrMediaAcquisitionFailed, CodeMediaAcquisition},
	{domain.ErrPeerConnectionFailed, CodePeerConnectFailed},
}

// From converts err into an AppError, keeping err as the cause.
// Unknown errors become CodeInternal with a generic message.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	for _, m := range mapping {
		if errors.Is(err, m.target) {
			return Wrap(m.code, err)
		}
	}
	return New(CodeInternal, "internal error").WithCause(err)
}

func httpStatus(code Code) int {
	switch code {
	case CodeInvalidMessage, CodeInvalidCode:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRoomNotFound, CodeUnknownTarget:
		return http.StatusNotFound
	case CodeNotJoined, CodeDuplicateConn:
		return http.StatusConflict
	case CodeMeetingEnded:
		return http.StatusGone
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
