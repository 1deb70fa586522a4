package upload

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/AVVKavvk/livekit-caller/apperr"
	"github.com/xuri/excelize/v2"
)

func TestParseCSVByHeader(t *testing.T) {
	in := "Name,Mobile,City\nAsha,+919876543210,Pune\nRavi, +14155550100 ,SF\nNobody,,\n"
	got, err := ParsePhoneNumbers("leads.csv", strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"+919876543210", "+14155550100"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseCSVFallsBackToFirstColumn(t *testing.T) {
	in := "numbers_to_call,owner\n+15550001,a\n+15550002,b\n"
	got, err := ParsePhoneNumbers("list.CSV", strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got[0] != "+15550001" {
		t.Fatalf("unexpected numbers %v", got)
	}
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]string{{"Customer", "Phone_Number"}, {"Asha", "+919876543210"}, {"Ravi", "+14155550100"}}
	for i, row := range rows {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	got, err := ParsePhoneNumbers("leads.xlsx", buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"+919876543210", "+14155550100"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"leads.txt":  "phone\n+1\n",
		"leads.xlsx": "definitely not a zip archive",
		"empty.csv":  "",
	}
	for name, body := range cases {
		if _, err := ParsePhoneNumbers(name, strings.NewReader(body)); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}
