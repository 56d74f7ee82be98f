// Package events defines the recorder data model: the Recording a session
// belongs to, the closed RawEvent variant produced by input, window, and
// screen sources, and the ActionEvent tree that merging and replay operate
// on. It also ships deterministic synthetic sources for hosts without a
// native event tap and for automated tests.
package events
