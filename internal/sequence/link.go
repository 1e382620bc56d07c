package sequence

import (
	"fmt"

	"github.com/google/uuid"
)

// Link connects output slot SrcSlot of processor Src to input slot DstSlot
// of processor Dst. Links compare equal when all four fields are equal. A
// nil Dst is only meaningful as a wildcard for RemoveLink.
type Link struct {
	Src     uuid.UUID `json:"src" yaml:"src"`
	Dst     uuid.UUID `json:"dst" yaml:"dst"`
	SrcSlot int       `json:"src_slot" yaml:"src_slot"`
	DstSlot int       `json:"dst_slot" yaml:"dst_slot"`
}

func (l Link) String() string {
	return fmt.Sprintf("%s[%d]->%s[%d]", l.Src, l.SrcSlot, l.Dst, l.DstSlot)
}
