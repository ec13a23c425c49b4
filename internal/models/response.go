package models

// Response is the terminal success payload of a transfer.
type Response struct {
	StatusCode int                 `json:"statusCode,omitempty" msgpack:"statusCode,omitempty" yaml:"statusCode,omitempty"`
	Header     map[string][]string `json:"header,omitempty" msgpack:"header,omitempty" yaml:"header,omitempty"`
	Body       []byte              `json:"body,omitempty" msgpack:"body,omitempty" yaml:"body,omitempty"`
	Location   string              `json:"location,omitempty" msgpack:"location,omitempty" yaml:"location,omitempty"`
}
