package scheduler

import (
	"fmt"

	"github.com/sarchlab/o3sim/insts"
)

// Register file type ids used in read-port descriptors.
const (
	RFTypeInt = 0
	RFTypeFP  = 1

	// maxTypePortID bounds the combined type+port encoding:
	// typePortId = typeId<<4 | portId.
	maxTypePortID = 64

	maxReadPortPriority = 4
)

// MakeTypePortID combines a register file type id and a port id into the
// flat read-port index used by the arbitration fabric.
func MakeTypePortID(typeID, portID int) int {
	return typeID<<4 | portID
}

// ReadPortDesc assigns one register-file read port to one source operand
// position of an issue port.
type ReadPortDesc struct {
	// TypeID selects the register file: RFTypeInt or RFTypeFP.
	TypeID int
	// PortID selects the read port, 0..15.
	PortID int
	// Priority is the arbitration priority, 0..3; higher wins.
	Priority int
}

// rfPortClaim is a resolved read-port assignment.
type rfPortClaim struct {
	typePortID int
	priority   int
}

// issuePort is one output port of an issue queue: the op classes it can
// issue and the read-port assignments of its source operand positions.
type issuePort struct {
	mask [insts.NumOpClasses]bool
	fus  []FUDesc

	// intClaims[i] / fpClaims[i] assign a read port to source operand i of
	// the matching register class. Read ports are point-to-point with the
	// source position.
	intClaims []rfPortClaim
	fpClaims  []rfPortClaim
}

// newIssuePort resolves a port spec into its op-class mask and read-port
// claims.
func newIssuePort(iqName string, spec IssuePortSpec) (*issuePort, error) {
	p := &issuePort{fus: spec.FUs}

	for _, fu := range spec.FUs {
		for _, op := range fu.Ops {
			p.mask[op.Op] = true
		}
	}

	for _, rp := range spec.ReadPorts {
		if rp.TypeID != RFTypeInt && rp.TypeID != RFTypeFP {
			return nil, fmt.Errorf("%s: unknown RF type %d", iqName, rp.TypeID)
		}
		if rp.PortID < 0 || rp.PortID > 15 {
			return nil, fmt.Errorf("%s: RF port id %d out of range", iqName, rp.PortID)
		}
		if rp.Priority < 0 || rp.Priority >= maxReadPortPriority {
			return nil, fmt.Errorf("%s: RF port priority %d out of range", iqName, rp.Priority)
		}
		typePortID := MakeTypePortID(rp.TypeID, rp.PortID)
		if typePortID >= maxTypePortID {
			return nil, fmt.Errorf("%s: typePortId %d out of range", iqName, typePortID)
		}
		claim := rfPortClaim{typePortID: typePortID, priority: rp.Priority}
		if rp.TypeID == RFTypeInt {
			p.intClaims = append(p.intClaims, claim)
		} else {
			p.fpClaims = append(p.fpClaims, claim)
		}
	}

	return p, nil
}

// sameMask reports whether two ports expose identical op-class masks.
func (p *issuePort) sameMask(o *issuePort) bool {
	return p.mask == o.mask
}

// overlaps reports whether two ports share any op class.
func (p *issuePort) overlaps(o *issuePort) bool {
	for i := range p.mask {
		if p.mask[i] && o.mask[i] {
			return true
		}
	}
	return false
}
