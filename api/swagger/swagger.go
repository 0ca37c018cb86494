package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Booking API",
        "description": "Meeting booking against hosts' Google Calendar availability",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Availability", "description": "Calendar availability sync"},
        {"name": "Slots", "description": "Bookable slots"},
        {"name": "Reservations", "description": "Reservation lifecycle"},
        {"name": "Admin", "description": "Exports and role management"}
    ],
    "paths": {
        "/sync": {
            "post": {
                "tags": ["Availability"],
                "summary": "Sync the caller's availability from their calendar",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SyncResultEnvelope"}},
                    "412": {"description": "Calendar credentials missing", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Calendar unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/slots": {
            "get": {
                "tags": ["Slots"],
                "summary": "List bookable slots",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SlotListEnvelope"}}
                }
            }
        },
        "/reservations": {
            "get": {
                "tags": ["Reservations"],
                "summary": "List confirmed reservations",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "filter", "in": "query", "type": "string", "enum": ["my", "all"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Reservations"],
                "summary": "Book a reservation",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateReservationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ReservationEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Block not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reservations/{id}": {
            "get": {
                "tags": ["Reservations"],
                "summary": "Get a reservation",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ReservationEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Reservations"],
                "summary": "Cancel a reservation",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "guestEmail", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SuccessEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reservations/{id}/join": {
            "post": {
                "tags": ["Reservations"],
                "summary": "Join a group reservation",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/JoinReservationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SuccessEnvelope"}},
                    "409": {"description": "INVALID_STATE, TYPE_NOT_JOINABLE or ALREADY_JOINED", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/reservations/export": {
            "get": {
                "tags": ["Admin"],
                "summary": "Export reservations",
                "produces": ["text/csv", "application/pdf", "text/calendar"],
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf", "ics"]},
                    {"name": "from", "in": "query", "type": "string", "format": "date"},
                    {"name": "to", "in": "query", "type": "string", "format": "date"}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}}
                }
            }
        },
        "/admin/users/role": {
            "patch": {
                "tags": ["Admin"],
                "summary": "Change a user's role",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateRoleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "User not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateReservationRequest": {
            "type": "object",
            "required": ["blockId", "startTime", "endTime", "type"],
            "properties": {
                "blockId": {"type": "string"},
                "startTime": {"type": "string", "format": "date-time"},
                "endTime": {"type": "string", "format": "date-time"},
                "type": {"type": "string", "enum": ["ONE_ON_ONE", "GROUP"]},
                "title": {"type": "string"},
                "agenda": {"type": "string"},
                "guestName": {"type": "string"},
                "guestEmail": {"type": "string"}
            }
        },
        "JoinReservationRequest": {
            "type": "object",
            "properties": {
                "guestName": {"type": "string"},
                "guestEmail": {"type": "string"}
            }
        },
        "UpdateRoleRequest": {
            "type": "object",
            "required": ["userId", "role"],
            "properties": {
                "userId": {"type": "string"},
                "role": {"type": "string", "enum": ["ADMIN", "MEMBER"]}
            }
        },
        "Participant": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "reservation_id": {"type": "string"},
                "user_id": {"type": "string"},
                "guest_name": {"type": "string"},
                "guest_email": {"type": "string"},
                "user_name": {"type": "string"},
                "user_email": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "Reservation": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "block_id": {"type": "string"},
                "admin_id": {"type": "string"},
                "type": {"type": "string", "enum": ["ONE_ON_ONE", "GROUP"]},
                "title": {"type": "string"},
                "agenda": {"type": "string"},
                "status": {"type": "string", "enum": ["CONFIRMED", "CANCELLED"]},
                "start_time": {"type": "string"},
                "end_time": {"type": "string"},
                "remote_event_id": {"type": "string"},
                "creator_id": {"type": "string"},
                "guest_name": {"type": "string"},
                "guest_email": {"type": "string"},
                "participants": {"type": "array", "items": {"$ref": "#/definitions/Participant"}}
            }
        },
        "Slot": {
            "type": "object",
            "properties": {
                "block_id": {"type": "string"},
                "admin_id": {"type": "string"},
                "admin_name": {"type": "string"},
                "start_time": {"type": "string"},
                "end_time": {"type": "string"},
                "reservations": {"type": "array", "items": {"type": "object"}}
            }
        },
        "SyncResult": {
            "type": "object",
            "properties": {
                "synced": {"type": "integer"},
                "removed": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "array", "items": {"type": "object"}}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        },
        "SuccessEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object", "properties": {"success": {"type": "boolean"}}}
            }
        },
        "SyncResultEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/SyncResult"}
            }
        },
        "SlotListEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/Slot"}}
            }
        },
        "ReservationEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/Reservation"}
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
