//go:build embed_openapi

package api

import "shuttleplan/openapi"

func openAPILoad() ([]byte, error) { return openapi.Spec, nil }
