package ranging

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		in   string
		want PayloadKind
	}{
		{`{"distance_mm":[1,2,3,4]}`, PayloadFrame},
		{`  {"tof":{"distance_mm":[[1,2],[3,4]]}}`, PayloadFrame},
		{`{"odr":15,"resolution":"8x8"}`, PayloadConfig},
		{`boot ok`, PayloadUnknown},
		{``, PayloadUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.in); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Frame
	}{
		{
			name: "flat with mask",
			in:   `{"component":"tof","distance_mm":[50,150,4001,90],"target_status":[5,5,255,9]}`,
			want: Frame{Component: "tof", Distance: []int{50, 150, 4001, 90}, Validity: []int{5, 5, 255, 9}},
		},
		{
			name: "flat without mask",
			in:   `{"distance_mm":[1,2]}`,
			want: Frame{Distance: []int{1, 2}},
		},
		{
			name: "nested rows",
			in:   `{"component":"vl53l8cx","tof":{"distance_mm":[[1,2],[3,4]],"target_status":[[5,9],[255,0]]}}`,
			want: Frame{
				Component:    "vl53l8cx",
				DistanceRows: [][]int{{1, 2}, {3, 4}},
				ValidityRows: [][]int{{5, 9}, {255, 0}},
			},
		},
		{
			name: "null mask",
			in:   `{"distance_mm":[7],"target_status":null}`,
			want: Frame{Distance: []int{7}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.in)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_Grid(t *testing.T) {
	f, err := Decode(`{"tof":{"distance_mm":[[1],[2]]}}`)
	if err != nil {
		t.Fatal(err)
	}
	if !f.Grid() {
		t.Error("expected row payload to report Grid")
	}
}

func TestDecode_MixedLayouts(t *testing.T) {
	f, err := Decode(`{"distance_mm":[50,50,60,60],"target_status":[[255,255],[5,9]]}`)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{255, 255, 5, 9}, f.Validity); diff != "" {
		t.Errorf("flattened mask (-want +got):\n%s", diff)
	}
	if f.ValidityRows != nil {
		t.Errorf("ValidityRows = %v, want nil", f.ValidityRows)
	}

	f, err = Decode(`{"distance_mm":[[50,50],[60,60]],"target_status":[255,255,5,9]}`)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]int{{255, 255}, {5, 9}}, f.ValidityRows); diff != "" {
		t.Errorf("split mask (-want +got):\n%s", diff)
	}
	if f.Validity != nil {
		t.Errorf("Validity = %v, want nil", f.Validity)
	}

	_, err = Decode(`{"distance_mm":[[50,50],[60,60]],"target_status":[255,255,5]}`)
	if !errors.Is(err, ErrLayoutMismatch) {
		t.Errorf("uneven mask: err = %v, want ErrLayoutMismatch", err)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(`{"odr":15}`); !errors.Is(err, ErrNotFrame) {
		t.Errorf("config line: err = %v, want ErrNotFrame", err)
	}
	if _, err := Decode(`{"distance_mm":null}`); !errors.Is(err, ErrNotFrame) {
		t.Errorf("null distances: err = %v, want ErrNotFrame", err)
	}
	for _, in := range []string{
		`not json`,
		`{"distance_mm":"far"}`,
		`{"distance_mm":[1,2],"target_status":{"a":1}}`,
	} {
		_, err := Decode(in)
		if err == nil || errors.Is(err, ErrNotFrame) {
			t.Errorf("Decode(%q) err = %v, want decode error", in, err)
		}
	}
}
