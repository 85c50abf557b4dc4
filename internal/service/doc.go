// Package service wires mail2fa into runnable binaries: file and environment
// configuration, store connections, the SMTP notifier, a static user
// directory and the HTTP routes served by cmd/mail2fa-server.
package service
