package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Exam Window API",
        "description": "Exam window lifecycle: scheduling, enrollment capacity and live status updates.",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Exam Windows", "description": "Window scheduling and lifecycle"},
        {"name": "Enrollments", "description": "Seat reservations and attendance"},
        {"name": "Reports", "description": "Roster exports"},
        {"name": "Realtime", "description": "Dashboard status updates"},
        {"name": "Ops", "description": "Health and metrics"}
    ],
    "paths": {
        "/health": {
            "get": {"tags": ["Ops"], "summary": "Liveness check", "responses": {"200": {"description": "OK"}}}
        },
        "/ready": {
            "get": {
                "tags": ["Ops"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "A dependency is down", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics": {
            "get": {"tags": ["Ops"], "summary": "Prometheus metrics", "produces": ["text/plain"], "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/exam-windows": {
            "post": {
                "tags": ["Exam Windows"],
                "summary": "Create an exam window",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateWindowRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid window configuration", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/exam-windows/mine": {
            "get": {
                "tags": ["Exam Windows"],
                "summary": "List the caller's windows after reconciling their states",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/exam-windows/available": {
            "get": {
                "tags": ["Exam Windows"],
                "summary": "List windows open for enrollment",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/exam-windows/update-statuses": {
            "patch": {
                "tags": ["Exam Windows"],
                "summary": "Reconcile the caller's windows now",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "window_id", "in": "query", "required": false, "type": "array", "items": {"type": "string"}, "collectionFormat": "multi"}
                ],
                "responses": {"200": {"description": "Applied changes; meta.updated holds their count", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/exam-windows/{id}": {
            "put": {
                "tags": ["Exam Windows"],
                "summary": "Edit schedule, capacity or notes",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateWindowRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Window already started or finished", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Exam Windows"],
                "summary": "Delete a window without enrollments",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "204": {"description": "Deleted"},
                    "412": {"description": "Window has enrollments", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/exam-windows/{id}/toggle": {
            "patch": {
                "tags": ["Exam Windows"],
                "summary": "Flip the active flag",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/exam-windows/{id}/state": {
            "patch": {
                "tags": ["Exam Windows"],
                "summary": "Start or finish an open-ended window",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ManualStateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Transition not allowed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/exam-windows/{id}/enrollments": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List active enrollments of a window",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/exam-windows/{id}/roster": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download the roster",
                "security": [{"BearerAuth": []}],
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "Roster document", "schema": {"type": "file"}},
                    "404": {"description": "Window not found or export disabled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/enrollments": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Enroll in a window",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateEnrollmentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "No seats left or already enrolled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Window not enrollable or already started", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/enrollments/mine": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List the caller's active enrollments",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/enrollments/{id}": {
            "delete": {
                "tags": ["Enrollments"],
                "summary": "Cancel an enrollment before the window starts",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "204": {"description": "Cancelled"},
                    "412": {"description": "Window already started", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/enrollments/{id}/attendance": {
            "patch": {
                "tags": ["Enrollments"],
                "summary": "Record attendance",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AttendanceRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/realtime/tickets": {
            "post": {
                "tags": ["Realtime"],
                "summary": "Issue a realtime subscription ticket",
                "security": [{"BearerAuth": []}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/realtime/ws": {
            "get": {
                "tags": ["Realtime"],
                "summary": "Subscribe to window status updates over websocket",
                "parameters": [{"name": "ticket", "in": "query", "required": true, "type": "string"}],
                "responses": {
                    "101": {"description": "Switching protocols"},
                    "401": {"description": "Invalid ticket", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateWindowRequest": {
            "type": "object",
            "required": ["exam_id", "mode", "capacity"],
            "properties": {
                "exam_id": {"type": "string"},
                "mode": {"type": "string", "enum": ["TIMED", "OPEN_ENDED"]},
                "starts_at": {"type": "string", "format": "date-time"},
                "duration_minutes": {"type": "integer", "minimum": 1, "maximum": 1440},
                "capacity": {"type": "integer", "minimum": 1, "maximum": 10000},
                "notes": {"type": "string"}
            }
        },
        "UpdateWindowRequest": {
            "type": "object",
            "properties": {
                "starts_at": {"type": "string", "format": "date-time"},
                "duration_minutes": {"type": "integer", "minimum": 1, "maximum": 1440},
                "capacity": {"type": "integer", "minimum": 1, "maximum": 10000},
                "notes": {"type": "string"}
            }
        },
        "ManualStateRequest": {
            "type": "object",
            "required": ["state"],
            "properties": {
                "state": {"type": "string", "enum": ["IN_PROGRESS", "FINISHED"]}
            }
        },
        "CreateEnrollmentRequest": {
            "type": "object",
            "required": ["window_id"],
            "properties": {
                "window_id": {"type": "string"}
            }
        },
        "AttendanceRequest": {
            "type": "object",
            "required": ["attended"],
            "properties": {
                "attended": {"type": "boolean"}
            }
        },
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
