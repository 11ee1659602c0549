package services

// ConfigError means the server is missing configuration an operator has to supply.
type ConfigError struct{ Message string }

func (e *ConfigError) Error() string { return e.Message }

// ValidationError is a user-correctable problem with the request.
type ValidationError struct {
	Message string
	Details string
}

func (e *ValidationError) Error() string { return e.Message }

// UpstreamError carries a non-2xx vendor response through unchanged.
type UpstreamError struct {
	Status  int
	Details interface{}
}

func (e *UpstreamError) Error() string { return "Image generation failed." }

// ContractError means the vendor answered 2xx but the payload held no usable image.
type ContractError struct {
	Details interface{}
}

func (e *ContractError) Error() string { return "No image data returned by the model." }
