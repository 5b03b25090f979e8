// Package domain defines the live-room wire protocol and the narrow
// interfaces the broadcaster consumes.
//
// Message and frame types live here together with the collaborator contracts
// (Transport, TokenVerifier, ActionHandler, Notifier). No implementation code,
// so adapters and the broadcast core can depend on it without cycles.
package domain
