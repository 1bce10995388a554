package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Lost & Found API",
        "description": "Community lost-and-found registry: item reports, ownership claims and staff adjudication.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "Uploads",
            "description": "Upload batches backing item and claim forms"
        },
        {
            "name": "Items",
            "description": "Lost and found item reports"
        },
        {
            "name": "Claims",
            "description": "Ownership claims"
        },
        {
            "name": "Adjudication",
            "description": "Staff decisions on claims and items"
        },
        {
            "name": "Artifacts",
            "description": "Stored images, documents and receipts"
        }
    ],
    "paths": {
        "/uploads": {
            "post": {
                "tags": [
                    "Uploads"
                ],
                "summary": "Open an upload batch",
                "parameters": [
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateUploadBatchRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Unknown kind",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/uploads/{batchId}": {
            "get": {
                "tags": [
                    "Uploads"
                ],
                "summary": "Get the state of an upload batch",
                "parameters": [
                    {
                        "in": "path",
                        "name": "batchId",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "delete": {
                "tags": [
                    "Uploads"
                ],
                "summary": "Discard an upload batch",
                "parameters": [
                    {
                        "in": "path",
                        "name": "batchId",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "204": {
                        "description": "Discarded"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/uploads/{batchId}/files": {
            "post": {
                "tags": [
                    "Uploads"
                ],
                "summary": "Add files to an upload batch",
                "parameters": [
                    {
                        "in": "path",
                        "name": "batchId",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "formData",
                        "name": "files",
                        "type": "file",
                        "required": true
                    }
                ],
                "consumes": [
                    "multipart/form-data"
                ],
                "responses": {
                    "202": {
                        "description": "Accepted",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Invalid files or capacity exceeded",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/uploads/{batchId}/wait": {
            "get": {
                "tags": [
                    "Uploads"
                ],
                "summary": "Wait for every slot of a batch to settle",
                "parameters": [
                    {
                        "in": "path",
                        "name": "batchId",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "query",
                        "name": "timeout",
                        "type": "string",
                        "description": "Maximum wait, e.g. 30s"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/uploads/{batchId}/slots/{slotId}": {
            "delete": {
                "tags": [
                    "Uploads"
                ],
                "summary": "Remove a settled slot",
                "parameters": [
                    {
                        "in": "path",
                        "name": "batchId",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "path",
                        "name": "slotId",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "204": {
                        "description": "Removed"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/uploads/{batchId}/slots/{slotId}/preview": {
            "get": {
                "tags": [
                    "Uploads"
                ],
                "summary": "Fetch the local preview of an image slot",
                "parameters": [
                    {
                        "in": "path",
                        "name": "batchId",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "path",
                        "name": "slotId",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Image"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/items": {
            "post": {
                "tags": [
                    "Items"
                ],
                "summary": "Report a lost or found item",
                "parameters": [
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ReportItemRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation failed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "get": {
                "tags": [
                    "Items"
                ],
                "summary": "List items",
                "parameters": [
                    {
                        "in": "query",
                        "name": "type",
                        "type": "string",
                        "description": "lost or found"
                    },
                    {
                        "in": "query",
                        "name": "status",
                        "type": "array",
                        "items": {
                            "type": "string"
                        },
                        "collectionFormat": "multi"
                    },
                    {
                        "in": "query",
                        "name": "category",
                        "type": "string"
                    },
                    {
                        "in": "query",
                        "name": "q",
                        "type": "string",
                        "description": "Search title, description and location"
                    },
                    {
                        "in": "query",
                        "name": "mine",
                        "type": "boolean"
                    },
                    {
                        "in": "query",
                        "name": "limit",
                        "type": "integer"
                    },
                    {
                        "in": "query",
                        "name": "offset",
                        "type": "integer"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/items/expire": {
            "post": {
                "tags": [
                    "Items"
                ],
                "summary": "Expire several found items",
                "parameters": [
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/BulkExpireRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Per-item results",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "428": {
                        "description": "Confirmation required",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/items/sweep": {
            "post": {
                "tags": [
                    "Items"
                ],
                "summary": "Run the expiry sweep now",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/items/{id}": {
            "get": {
                "tags": [
                    "Items"
                ],
                "summary": "Get an item with its visible claims",
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "delete": {
                "tags": [
                    "Items"
                ],
                "summary": "Permanently delete an item",
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "query",
                        "name": "confirm",
                        "type": "boolean"
                    }
                ],
                "responses": {
                    "204": {
                        "description": "Deleted"
                    },
                    "403": {
                        "description": "Admin only",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "428": {
                        "description": "Confirmation required",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/items/{id}/matches": {
            "get": {
                "tags": [
                    "Items"
                ],
                "summary": "Find candidate matches for an item",
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/items/{id}/history": {
            "get": {
                "tags": [
                    "Items"
                ],
                "summary": "Audit trail of an item and its claims",
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/items/{id}/claims": {
            "post": {
                "tags": [
                    "Claims"
                ],
                "summary": "Claim a found item",
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/SubmitClaimRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Item not accepting claims",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "429": {
                        "description": "Too many requests",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            },
            "get": {
                "tags": [
                    "Claims"
                ],
                "summary": "List the claims on an item",
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "query",
                        "name": "surface",
                        "type": "string",
                        "description": "claims or verification"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/items/{id}/claims/{claimId}/approve": {
            "post": {
                "tags": [
                    "Adjudication"
                ],
                "summary": "Approve a claim and reject its pending siblings",
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "path",
                        "name": "claimId",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "body",
                        "name": "payload",
                        "schema": {
                            "$ref": "#/definitions/ApproveClaimRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Approved",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Invalid state",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/items/{id}/claims/{claimId}/reject": {
            "post": {
                "tags": [
                    "Adjudication"
                ],
                "summary": "Reject a claim",
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "path",
                        "name": "claimId",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/RejectClaimRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Rejected",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Invalid state",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/items/{id}/claims/{claimId}/review": {
            "post": {
                "tags": [
                    "Adjudication"
                ],
                "summary": "Record a verification decision",
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "path",
                        "name": "claimId",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ReviewClaimRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/items/{id}/return": {
            "post": {
                "tags": [
                    "Adjudication"
                ],
                "summary": "Mark a claimed item as returned",
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ReturnItemRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Returned",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Invalid state",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/items/{id}/handover": {
            "post": {
                "tags": [
                    "Adjudication"
                ],
                "summary": "Hand an expired found item over to police",
                "parameters": [
                    {
                        "in": "path",
                        "name": "id",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/HandoverRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Handed over",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Invalid state",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "428": {
                        "description": "Confirmation required",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/claims/mine": {
            "get": {
                "tags": [
                    "Claims"
                ],
                "summary": "List the caller's claims",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/artifacts/files/{key}": {
            "get": {
                "tags": [
                    "Artifacts"
                ],
                "summary": "Download a stored artifact",
                "parameters": [
                    {
                        "in": "path",
                        "name": "key",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "File"
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        },
        "/artifacts/signed/{token}": {
            "get": {
                "tags": [
                    "Artifacts"
                ],
                "summary": "Download an artifact through a signed link",
                "parameters": [
                    {
                        "in": "path",
                        "name": "token",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "File"
                    }
                }
            }
        },
        "/artifacts/sign": {
            "post": {
                "tags": [
                    "Artifacts"
                ],
                "summary": "Issue a time-limited link for an artifact URL",
                "parameters": [
                    {
                        "in": "body",
                        "name": "payload",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/SignLinkRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "BearerAuth": []
                    }
                ]
            }
        }
    },
    "definitions": {
        "CreateUploadBatchRequest": {
            "type": "object",
            "properties": {
                "kind": {
                    "type": "string",
                    "enum": [
                        "item_images",
                        "claim_documents"
                    ]
                }
            }
        },
        "SignLinkRequest": {
            "type": "object",
            "properties": {
                "url": {
                    "type": "string"
                }
            }
        },
        "ReportItemRequest": {
            "type": "object",
            "properties": {
                "type": {
                    "type": "string",
                    "enum": [
                        "lost",
                        "found"
                    ]
                },
                "category": {
                    "type": "string"
                },
                "title": {
                    "type": "string"
                },
                "description": {
                    "type": "string"
                },
                "location": {
                    "type": "string"
                },
                "occurredOn": {
                    "type": "string",
                    "format": "date"
                },
                "imageBatchId": {
                    "type": "string"
                },
                "additionalDetails": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "string"
                    }
                }
            }
        },
        "BulkExpireRequest": {
            "type": "object",
            "properties": {
                "itemIds": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "confirm": {
                    "type": "boolean"
                }
            }
        },
        "SubmitClaimRequest": {
            "type": "object",
            "properties": {
                "notes": {
                    "type": "string"
                },
                "documentBatchId": {
                    "type": "string"
                }
            }
        },
        "ApproveClaimRequest": {
            "type": "object",
            "properties": {
                "notes": {
                    "type": "string"
                }
            }
        },
        "RejectClaimRequest": {
            "type": "object",
            "properties": {
                "reason": {
                    "type": "string"
                }
            }
        },
        "ReviewClaimRequest": {
            "type": "object",
            "properties": {
                "status": {
                    "type": "string",
                    "enum": [
                        "approved",
                        "verified",
                        "rejected"
                    ]
                },
                "note": {
                    "type": "string"
                }
            }
        },
        "ReturnItemRequest": {
            "type": "object",
            "properties": {
                "claimId": {
                    "type": "string"
                },
                "notes": {
                    "type": "string"
                }
            }
        },
        "HandoverRequest": {
            "type": "object",
            "properties": {
                "reportNumber": {
                    "type": "string"
                },
                "confirm": {
                    "type": "boolean"
                }
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "limit": {
                    "type": "integer"
                },
                "offset": {
                    "type": "integer"
                },
                "count": {
                    "type": "integer"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                },
                "details": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "pagination": {
                    "$ref": "#/definitions/Pagination"
                },
                "meta": {
                    "type": "object"
                }
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
