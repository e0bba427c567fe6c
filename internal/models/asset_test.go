package models

import (
	"testing"
	"time"
)

func TestCategoryValid(t *testing.T) {
	for _, cat := range Categories {
		if !cat.Valid() {
			t.Errorf("category %q should be valid", cat)
		}
	}
	for _, cat := range []Category{"", "memes", "Art", "ART"} {
		if cat.Valid() {
			t.Errorf("category %q should be invalid", cat)
		}
	}
}

func TestAssetOpen(t *testing.T) {
	end := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	asset := &Asset{Status: AssetStatusOpen, EndTime: end}

	if !asset.Open(end.Add(-time.Second)) {
		t.Error("asset should be open before its end time")
	}
	if asset.Open(end) {
		t.Error("the end time itself is outside the bidding window")
	}
	if asset.Open(end.Add(time.Second)) {
		t.Error("asset should not be open after its end time")
	}

	asset.Status = AssetStatusClosed
	if asset.Open(end.Add(-time.Hour)) {
		t.Error("a closed asset is never open")
	}
}
