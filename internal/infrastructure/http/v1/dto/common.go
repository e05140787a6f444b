// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import "tenantdb/internal/core/id"

// --- Pagination ---

// PaginationRequest contains pagination parameters.
type PaginationRequest struct {
	Limit  uint64 `form:"limit" binding:"omitempty,max=500"`
	Offset uint64 `form:"offset"`
}

// Defaults sets default pagination values.
func (p *PaginationRequest) Defaults() {
	if p.Limit == 0 {
		p.Limit = 50
	}
}

// ListResponse wraps list results with pagination.
type ListResponse[T any] struct {
	Items      []T    `json:"items"`
	TotalCount int64  `json:"totalCount"`
	Limit      uint64 `json:"limit"`
	Offset     uint64 `json:"offset"`
}

// --- ID Response ---

// IDResponse for create operations.
type IDResponse struct {
	ID string `json:"id"`
}

// NewIDResponse creates ID response.
func NewIDResponse(i id.ID) IDResponse {
	return IDResponse{ID: i.String()}
}

// --- Error Response ---

// ErrorResponse for error details.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
