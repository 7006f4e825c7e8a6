// Package app composes the storefront: it builds the domain services on top
// of the configured stores and manages their lifecycle.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── auth/               # JWT issuing/verification and password hashing
//	├── domain/             # Plain data types (catalog, cart, order, customer, user, audit)
//	├── events/             # In-process order event bus
//	├── httpapi/            # Router, handlers, audit trail and websocket feed
//	├── metrics/            # Prometheus collectors
//	├── runtime/            # Database, stores and HTTP server for the binary
//	├── services/           # Business rules, one package per concern
//	├── storage/            # Store interfaces
//	│   ├── memory/         # In-memory stores for tests and demos
//	│   ├── sqlstore/       # SQLite/Postgres stores on sqlx
//	│   └── rediscart/      # Redis-backed carts
//	└── system/             # Service manager and cron scheduler
//
// # Dependency Direction
//
//	cmd/storefront
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app/httpapi
//	      │                        │
//	      ▼                        ▼
//	internal/app (composition) ◄───┘
//	      │
//	      ├──► services ──► domain
//	      │        │
//	      │        └──► storage (interfaces)
//	      │
//	      └──► storage/{memory,sqlstore,rediscart}
//
// Services never import httpapi or runtime; handlers reach services only
// through the exported fields of Application.
package app
