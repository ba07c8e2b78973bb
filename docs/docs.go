// Package docs holds the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/tcc/try": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Freeze amount on the user's account for branch (xid, branchId). Idempotent.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["TCC"],
                "summary": "TCC Try",
                "parameters": [
                    {"description": "Try request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.TryRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.BranchResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/tcc/confirm": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["TCC"],
                "summary": "TCC Confirm",
                "parameters": [
                    {"description": "Confirm request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.BranchRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.BranchResult"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "425": {"description": "Too Early", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/tcc/cancel": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Release frozen funds. Cancelling a branch that never ran Try records it as cancelled.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["TCC"],
                "summary": "TCC Cancel",
                "parameters": [
                    {"description": "Cancel request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.BranchRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.BranchResult"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/tcc/branches/{xid}/{branchId}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["TCC"],
                "summary": "Get branch",
                "parameters": [
                    {"type": "string", "description": "Global transaction id", "name": "xid", "in": "path", "required": true},
                    {"type": "integer", "description": "Branch id", "name": "branchId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.TransactionLog"}},
                    "425": {"description": "Too Early", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/accounts/{userId}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Accounts"],
                "summary": "Get account",
                "parameters": [
                    {"type": "string", "description": "User id", "name": "userId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Account"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.TryRequest": {
            "type": "object",
            "required": ["amount", "userId", "xid"],
            "properties": {
                "xid": {"type": "string", "maxLength": 128},
                "branchId": {"type": "integer", "minimum": 0},
                "userId": {"type": "string", "maxLength": 64},
                "amount": {"type": "integer"}
            }
        },
        "handlers.BranchRequest": {
            "type": "object",
            "required": ["xid"],
            "properties": {
                "xid": {"type": "string", "maxLength": 128},
                "branchId": {"type": "integer", "minimum": 0}
            }
        },
        "handlers.BranchResult": {
            "type": "object",
            "properties": {
                "result": {"type": "string"},
                "xid": {"type": "string"},
                "branchId": {"type": "integer"}
            }
        },
        "models.TransactionLog": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "xid": {"type": "string"},
                "branchId": {"type": "integer"},
                "userId": {"type": "string"},
                "amount": {"type": "integer"},
                "status": {"type": "string", "enum": ["TRYING", "CONFIRMED", "CANCELLED"]},
                "createdAt": {"type": "string"},
                "modifiedAt": {"type": "string"}
            }
        },
        "models.Account": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "userId": {"type": "string"},
                "money": {"type": "integer"},
                "frozenMoney": {"type": "integer"},
                "updatedAt": {"type": "string"}
            }
        },
        "services.ErrorResponse": {
            "type": "object",
            "properties": {
                "result": {"type": "string"},
                "error": {"type": "string"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "TCC Account Participant API",
	Description:      "Try-Confirm-Cancel resource manager for account balances",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
