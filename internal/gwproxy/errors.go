package gwproxy

import "errors"

// Error taxonomy for the proxy front-end. routing.ErrNoAvailableAccount,
// config.ErrConfig, and cryptostore.ErrStore/ErrDecrypt cover the rest.
var (
	ErrUpstream   = errors.New("upstream error")
	ErrTransport  = errors.New("transport error")
	ErrBadRequest = errors.New("bad request")
)
