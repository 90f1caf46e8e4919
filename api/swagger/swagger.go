package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Portal de Inscripciones API",
        "description": "Enrollment and administration backend for a secondary school",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {"name": "Catalog", "description": "Public reference catalog"},
        {"name": "Drafts", "description": "Public enrollment draft accumulator"},
        {"name": "Enrollments", "description": "Enrollment submission and lifecycle"},
        {"name": "Sections", "description": "Course sections and rosters"},
        {"name": "Payments", "description": "Treasury ledger"},
        {"name": "Reports", "description": "Dashboard and exports"},
        {"name": "Users", "description": "Back-office accounts"},
        {"name": "Students", "description": "Student registry"},
        {"name": "Authentication", "description": "Session management"}
    ],
    "paths": {
        "/catalog/provinces": {
            "get": {
                "tags": ["Catalog"],
                "summary": "List provinces",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/catalog/levels": {
            "get": {
                "tags": ["Catalog"],
                "summary": "List education levels",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/drafts": {
            "post": {
                "tags": ["Drafts"],
                "summary": "Start a draft",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/drafts/{token}/sections/{section}": {
            "put": {
                "tags": ["Drafts"],
                "summary": "Save a draft section",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"},
                    {"name": "section", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Saved"},
                    "400": {"description": "Invalid section or payload"}
                }
            },
            "get": {
                "tags": ["Drafts"],
                "summary": "Get a draft section",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"},
                    {"name": "section", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Section not stored"}
                }
            }
        },
        "/enrollments": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Submit enrollment",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate enrollment for cycle"}
                }
            },
            "get": {
                "tags": ["Enrollments"],
                "summary": "List enrollments",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "cycle", "in": "query", "type": "string"},
                    {"name": "level", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/check-duplicate": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "Check duplicate enrollment",
                "parameters": [
                    {"name": "dni", "in": "query", "required": true, "type": "string"},
                    {"name": "cycle", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/status": {
            "patch": {
                "tags": ["Enrollments"],
                "summary": "Transition enrollment status",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Illegal transition"}
                }
            }
        },
        "/sections/assign": {
            "post": {
                "tags": ["Sections"],
                "summary": "Bulk assign enrollments to a section",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "204": {"description": "Assigned"},
                    "409": {"description": "Some enrollments were not assignable"}
                }
            }
        },
        "/sections/{id}/roster": {
            "get": {
                "tags": ["Sections"],
                "summary": "List section roster",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Section out of scope"}
                }
            }
        },
        "/payments": {
            "post": {
                "tags": ["Payments"],
                "summary": "Record payment",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Concept already recorded"}
                }
            },
            "get": {
                "tags": ["Payments"],
                "summary": "List treasury payments",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/dashboard": {
            "get": {
                "tags": ["Reports"],
                "summary": "Admin dashboard numbers",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "cycle", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        }
    },
    "definitions": {
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
