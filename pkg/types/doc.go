// Package types defines the shared data model for the Burrow node agent:
// agent, framework, executor and task descriptors, task states, status
// updates and their acknowledgement correlators, and resource/attribute
// parsing for the flag syntax ("cpus:1;mem:128", "rack:r1;zone:a").
//
// The types here are plain data. Ownership and mutation rules live with the
// agent actor in pkg/agent; everything crossing the wire is JSON-tagged.
package types
