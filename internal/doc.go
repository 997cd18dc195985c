// Package internal contains the implementation packages of the playground
// host.
//
// # Package Organization
//
//   - workspace: the immutable file tree, templates, node paths and the
//     readiness latch
//   - sandbox: the gateway to the isolated filesystem and process runner,
//     with a local implementation, an in-memory fake and snapshot fetching
//   - editor: buffers, view states, the change stream and formatters
//   - terminal: shells rendered into terminal views once the workspace is
//     ready
//   - session: the live handle over one workspace, selection and theme
//   - syncengine: mounting, provisioning and the per-file sync pipeline
//   - plugins: supervised background plugins (formatting, type acquisition,
//     tsconfig)
//   - server: the HTTP API, the page and the editor and terminal sockets
//   - config, errors, logging, metrics, debounce, watcher, theme, version:
//     shared infrastructure
//
// # Data Flow
//
// The selected file's buffer is mirrored into the sandbox after a quiet
// period, and external changes to the file are mirrored back into the buffer.
// Structural edits go through the session handle, which updates the tree and
// the sandbox under one lock.
//
// # Testing Strategy
//
//   - Unit and table tests with testify in every package
//   - Property tests with gopter behind the property build tag
//   - sandbox.Memory as the sandbox in every test above the sandbox package
package internal
