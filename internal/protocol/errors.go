package protocol

import "errors"

var errEmptyPayload = errors.New("protocol: empty payload")
