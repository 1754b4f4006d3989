package registration

import (
	"context"
	"testing"
)

func TestListSearchMatchesNameAndApartment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, errCreate := f.service.Create(ctx, f.residentInput()); errCreate != nil {
		t.Fatalf("create owner card: %v", errCreate)
	}
	member := f.residentInput()
	member.ResidentID = f.memberResident
	member.FullName = "Tran Thi Binh"
	member.CitizenID = "079201005678"
	if _, errCreate := f.service.Create(ctx, member); errCreate != nil {
		t.Fatalf("create member card: %v", errCreate)
	}

	// Case-insensitive match on the holder name.
	regs, total, errList := f.service.List(ctx, ListFilter{Search: "binh"})
	if errList != nil {
		t.Fatalf("list by name: %v", errList)
	}
	if total != 1 || len(regs) != 1 {
		t.Fatalf("matched %d/%d cards, want 1", len(regs), total)
	}
	if regs[0].FullName != "Tran Thi Binh" {
		t.Fatalf("matched %q, want Tran Thi Binh", regs[0].FullName)
	}

	// The apartment number matches both cards of the unit.
	_, total, errList = f.service.List(ctx, ListFilter{Search: "a-1203"})
	if errList != nil {
		t.Fatalf("list by apartment: %v", errList)
	}
	if total != 2 {
		t.Fatalf("matched %d cards by apartment, want 2", total)
	}

	_, total, errList = f.service.List(ctx, ListFilter{Search: "no-such-holder"})
	if errList != nil {
		t.Fatalf("list without match: %v", errList)
	}
	if total != 0 {
		t.Fatalf("matched %d cards, want 0", total)
	}
}
