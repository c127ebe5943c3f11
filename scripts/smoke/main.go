// Package main runs smoke tests against a deployed booking API.
//
// Tier 1 checks /health and /config, tier 2 adds read-only lookups, tier 3
// books a real appointment for the given patient and cancels it again.
//
// Usage:
//
//	go run ./scripts/smoke --api=URL --rut=RUT --professionals=7,9 [--branch=1] [--tier=1|2|3]
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	flagAPI           string
	flagTier          int
	flagRUT           string
	flagProfessionals string
	flagBranch        int
	flagUserID        string
)

func init() {
	flag.StringVar(&flagAPI, "api", "http://localhost:8080", "API base URL")
	flag.IntVar(&flagTier, "tier", 1, "Test tier: 1=health, 2=+lookups, 3=+book and cancel")
	flag.StringVar(&flagRUT, "rut", "", "RUT of an existing test patient (tier 2+)")
	flag.StringVar(&flagProfessionals, "professionals", "", "Comma-separated professional ids (tier 2+)")
	flag.IntVar(&flagBranch, "branch", 0, "Branch id")
	flag.StringVar(&flagUserID, "user-id", "smoke-test", "CRM contact id sent with bookings")
}

type result struct {
	Name   string
	Pass   bool
	Detail string
}

var client = &http.Client{Timeout: 90 * time.Second}

func call(method, path string, payload any) (int, map[string]any, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, strings.TrimRight(flagAPI, "/")+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out, nil
}

func check(name string, wantStatus int, method, path string, payload any) (result, map[string]any) {
	status, body, err := call(method, path, payload)
	if err != nil {
		return result{Name: name, Detail: err.Error()}, nil
	}
	if status != wantStatus {
		return result{Name: name, Detail: fmt.Sprintf("status %d: %v", status, body)}, body
	}
	return result{Name: name, Pass: true, Detail: fmt.Sprintf("status %d", status)}, body
}

func professionalIDs() []int {
	var ids []int
	for _, part := range strings.Split(flagProfessionals, ",") {
		if id, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// firstSlot picks the earliest start out of a search_availability response.
func firstSlot(body map[string]any) (professionalID int, date, start string, ok bool) {
	entries, _ := body["disponibilidad"].([]any)
	for _, e := range entries {
		entry, _ := e.(map[string]any)
		id, _ := entry["id_profesional"].(float64)
		dates, _ := entry["fechas"].(map[string]any)
		for d, starts := range dates {
			list, _ := starts.([]any)
			if len(list) == 0 {
				continue
			}
			s, _ := list[0].(string)
			if date == "" || d < date {
				professionalID, date, start, ok = int(id), d, s, true
			}
		}
	}
	return
}

func run() []result {
	var results []result

	r, _ := check("health", http.StatusOK, http.MethodGet, "/health", nil)
	results = append(results, r)
	r, _ = check("config", http.StatusOK, http.MethodGet, "/config", nil)
	results = append(results, r)
	if flagTier < 2 {
		return results
	}

	r, _ = check("search_user", http.StatusOK, http.MethodPost, "/search_user", map[string]any{"rut": flagRUT, "id_sucursal": flagBranch})
	results = append(results, r)
	r, _ = check("get_patient_treatments", http.StatusOK, http.MethodPost, "/get_patient_treatments", map[string]any{"rut": flagRUT})
	results = append(results, r)
	r, avail := check("search_availability", http.StatusOK, http.MethodPost, "/search_availability", map[string]any{
		"ids_profesionales": professionalIDs(),
		"id_sucursal":       flagBranch,
	})
	results = append(results, r)
	if flagTier < 3 {
		return results
	}

	professionalID, date, start, ok := firstSlot(avail)
	if !ok {
		return append(results, result{Name: "schedule_appointment", Detail: "no slot to book"})
	}
	_, patient, err := call(http.MethodPost, "/search_user", map[string]any{"rut": flagRUT, "id_sucursal": flagBranch})
	patientID, _ := patient["id"].(float64)
	if err != nil || patientID == 0 {
		return append(results, result{Name: "schedule_appointment", Detail: "patient id unavailable"})
	}
	r, booked := check("schedule_appointment", http.StatusOK, http.MethodPost, "/schedule_appointment", map[string]any{
		"id_paciente":    int(patientID),
		"id_profesional": professionalID,
		"id_sucursal":    flagBranch,
		"fecha":          date,
		"hora_inicio":    start,
		"comentario":     "smoke test",
		"user_id":        flagUserID,
	})
	results = append(results, r)
	if !r.Pass {
		return results
	}
	appointmentID, _ := booked["id_cita"].(float64)
	r, _ = check("cancel_appointment", http.StatusOK, http.MethodPost, "/cancel_appointment", map[string]any{"id_cita": int(appointmentID)})
	return append(results, r)
}

func main() {
	flag.Parse()
	if flagTier >= 2 && (flagRUT == "" || flagProfessionals == "") {
		fmt.Fprintln(os.Stderr, "--rut and --professionals are required for tier 2+")
		os.Exit(2)
	}

	fmt.Printf("Smoke testing %s (tier %d)\n\n", flagAPI, flagTier)
	results := run()

	failed := 0
	for _, r := range results {
		icon := "✅"
		if !r.Pass {
			icon = "❌"
			failed++
		}
		fmt.Printf("%s %-24s %s\n", icon, r.Name, r.Detail)
	}
	if failed > 0 {
		fmt.Printf("\n❌ %d TESTS FAILED\n", failed)
		os.Exit(1)
	}
	fmt.Println("\n✅ ALL TESTS PASSED")
}
