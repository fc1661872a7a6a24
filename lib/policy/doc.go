// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy implements the attribute-based access control engine
// that gates request dispatch. A policy is a named boolean rule over
// subject attributes (from the peer's verified credential) and
// resource attributes (built per request), bound to a method glob
// pattern.
//
// Rules use a small expression language:
//
//	subject.role == "admin" and resource.action == "read"
//	resource.size <= 4096 or subject.quota-exempt == "true"
//	not (subject.env != "prod")
//
// Operands are subject.<key> / resource.<key> references and string,
// integer, or boolean literals. Keywords and/or/not interchange with
// &&/||/!. Rules compile at load time (Parse); evaluation is a pure
// function that never fails.
//
// Every choice fails closed: a missing attribute never equals
// anything, mismatched types never compare, a malformed method
// pattern covers nothing, a method with no covering policy is denied,
// and when several policies cover a method all of them must allow.
//
// Policy documents are JSONC files loaded at startup:
//
//	{
//	    // operators may comment their intent
//	    "policies": [
//	        {"name": "sensor-read", "resource": "sensor/*",
//	         "rule": "subject.role == \"reader\""},
//	    ]
//	}
package policy
