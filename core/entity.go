package core

import (
	"context"
)

type (
	// LockPolicy controls what happens to a client's element locks when its
	// connection goes away.
	LockPolicy int

	// SnapshotStore persists the latest document snapshot so a restarted
	// server can hand joiners the last known state instead of the seed
	// diagram. Only the most recent snapshot is kept; Save replaces it.
	SnapshotStore interface {
		Load(ctx context.Context) (xml string, ok bool, err error)
		Save(ctx context.Context, xml string) error
	}
)

const (
	// ReleaseLocksOnDisconnect removes a client's locks when it leaves and
	// notifies the remaining clients.
	ReleaseLocksOnDisconnect LockPolicy = iota
	// KeepLocksOnDisconnect leaves lock entries in place after their holder
	// disconnects.
	KeepLocksOnDisconnect
)

// DefaultDiagramXML is the seed document a fresh room starts from: an empty
// process holding a single start event.
const DefaultDiagramXML = `<?xml version="1.0" encoding="UTF-8"?>
<bpmn:definitions xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
                  xmlns:bpmn="http://www.omg.org/spec/BPMN/20100524/MODEL"
                  xmlns:bpmndi="http://www.omg.org/spec/BPMN/20100524/DI"
                  xmlns:dc="http://www.omg.org/spec/DD/20100524/DC"
                  targetNamespace="http://bpmn.io/schema/bpmn"
                  id="Definitions_1">
  <bpmn:process id="Process_1" isExecutable="false">
    <bpmn:startEvent id="StartEvent_1"/>
  </bpmn:process>
  <bpmndi:BPMNDiagram id="BPMNDiagram_1">
    <bpmndi:BPMNPlane id="BPMNPlane_1" bpmnElement="Process_1">
      <bpmndi:BPMNShape id="_BPMNShape_StartEvent_2" bpmnElement="StartEvent_1">
        <dc:Bounds height="36.0" width="36.0" x="173.0" y="102.0"/>
      </bpmndi:BPMNShape>
    </bpmndi:BPMNPlane>
  </bpmndi:BPMNDiagram>
</bpmn:definitions>
`
