// Package ice implements the C6 Host Candidate Harvester: binding a
// SocketWrapper across allowed interfaces within a configured port range,
// with bounded retry, producing the HostCandidate values an ICE agent
// offers as local candidates.
//
// It builds on internal/transport for socket binding and filtering; it
// never implements ICE priority/pairing/checklist logic, which remains an
// external collaborator's concern.
package ice
