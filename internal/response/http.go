package response

type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data,omitempty"`
}

// ListResponse is an APIResponse for collections, with the number of items returned.
type ListResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Count   int    `json:"count"`
	Data    []T    `json:"data"`
}

func NewList[T any](message string, data []T) *ListResponse[T] {
	if data == nil {
		data = []T{}
	}
	return &ListResponse[T]{Success: true, Message: message, Count: len(data), Data: data}
}

type ErrorResponse struct {
	Error string `json:"error"`
}
