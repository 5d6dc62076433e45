package config

import _ "embed"

// RBACModel is the casbin model used when CASBIN_MODEL does not point at a file.
//
//go:embed restful_rbac_model.conf
var RBACModel string
