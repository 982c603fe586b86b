// Package mock provides a scripted provider for tests and local runs.
//
// The provider runs `sh -c <script>` with the prompt as $1 and the thread
// id as $2, and understands a tiny line protocol:
//
//	{"type":"thread","id":"t-1"}
//	{"type":"text","text":"hello"}
//	{"type":"tool","name":"Read","input":{"path":"a"}}
//	{"type":"error","message":"boom"}
//
// Importing the package registers it under client.ClientMock:
//
//	import _ "github.com/zjrosen/relay/internal/orchestration/mock"
package mock
