package main

import (
	"reflect"
	"testing"
)

func TestMergeCapabilities(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		configured []string
		taskTypes  string
		want       []string
	}{
		{"flag only", nil, "compile,game", []string{"compile", "game"}},
		{"config only", []string{"ondemand"}, "", []string{"ondemand"}},
		{"merged with duplicates", []string{"gpu", "game"}, "game, ondemand", []string{"gpu", "game", "ondemand"}},
		{"empty means take anything", nil, "", []string{}},
		{"whitespace trimmed", nil, " compile , ", []string{"compile"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := mergeCapabilities(tc.configured, tc.taskTypes)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
