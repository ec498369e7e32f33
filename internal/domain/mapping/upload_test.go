package mapping

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseUpload(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		kind    string
		rows    []Row
		codes   int
		wantErr error
	}{
		{
			name: "mappings with short headers",
			csv:  "namaste,tm2,biomed\nNAM-01,TM2.01,R50.9\n,,\nNAM-02,,B01\n",
			kind: UploadMappings,
			rows: []Row{{"NAM-01", "TM2.01", "R50.9"}, {"NAM-02", "", "B01"}},
		},
		{
			name: "mappings with aliases and BOM",
			csv:  "\ufeffNAMASTE_CODE, ICD11_TM2, icd11_biomed\nNAM-01, TM2.01, R50.9\n",
			kind: UploadMappings,
			rows: []Row{{"NAM-01", "TM2.01", "R50.9"}},
		},
		{
			name: "mapping columns win over code columns",
			csv:  "code,term,system,namaste,tm2_code,biomed_code\nx,y,z,NAM-01,TM2.01,\n",
			kind: UploadMappings,
			rows: []Row{{"NAM-01", "TM2.01", ""}},
		},
		{
			name:  "codes",
			csv:   "code,term,system,mapped\nU-1,Uploaded,NAMASTE,true\nU-2,Other,,false\n",
			kind:  UploadCodes,
			codes: 2,
		},
		{name: "header only", csv: "namaste,tm2,biomed\n", kind: UploadEmpty},
		{name: "blank", csv: "", kind: UploadEmpty},
		{name: "unknown columns", csv: "a,b\n1,2\n", wantErr: ErrUnrecognizedUpload},
		{name: "missing biomed column", csv: "namaste,tm2\nNAM-01,TM2.01\n", wantErr: ErrUnrecognizedUpload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up, err := ParseUpload([]byte(tt.csv))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if up.Kind != tt.kind {
				t.Errorf("kind: got %q, want %q", up.Kind, tt.kind)
			}
			if tt.rows != nil && !reflect.DeepEqual(up.Rows, tt.rows) {
				t.Errorf("rows: got %+v, want %+v", up.Rows, tt.rows)
			}
			if len(up.Codes) != tt.codes {
				t.Errorf("codes: got %d, want %d", len(up.Codes), tt.codes)
			}
		})
	}
}

func TestPairs(t *testing.T) {
	terms := map[string]string{"NAMASTE:NAM-01": "Jwara (Fever)", "TM2:TM2.01": "Fever pattern"}
	lookup := func(system, code string) string { return terms[system+":"+code] }

	pairs := Pairs([]Row{
		{Namaste: "NAM-01", TM2: "TM2.01", Biomed: "R50.9"},
		{Namaste: "", TM2: "TM2.02", Biomed: "B02"},
		{Namaste: "NAM-03"},
	}, lookup)

	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %+v", pairs)
	}
	if pairs[0].Dest.System != "TM2" || pairs[0].Source.Term != "Jwara (Fever)" || pairs[0].Dest.Term != "Fever pattern" {
		t.Errorf("unexpected tm2 pair %+v", pairs[0])
	}
	if pairs[1].Dest.System != "BIO" || pairs[1].Dest.Term != ImportedTerm {
		t.Errorf("unexpected biomed pair %+v", pairs[1])
	}
	for _, p := range pairs {
		if p.Score != 1 || p.FromSystem != "NAMASTE" {
			t.Errorf("expected score 1 from NAMASTE, got %+v", p)
		}
	}
}
