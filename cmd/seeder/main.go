package main

import (
	"bufio"
	"flag"
	"fmt"
	"iter"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/source"
)

var complaints = []string{
	"chest pain radiating to the left arm",
	"shortness of breath on exertion",
	"intermittent palpitations",
	"persistent dry cough",
	"right knee pain after a fall",
	"severe headache with photophobia",
	"lower back pain worse in the morning",
	"dizziness when standing",
	"abdominal pain and nausea",
	"fatigue and weight loss over three months",
	"swelling of both ankles",
	"fever and productive cough",
}

var histories = []string{
	"History of hypertension managed with lisinopril.",
	"History of type 2 diabetes mellitus on metformin.",
	"Prior myocardial infarction treated with stenting.",
	"Known atrial fibrillation on apixaban.",
	"Asthma since childhood, uses albuterol as needed.",
	"No significant past medical history.",
	"History of chronic kidney disease stage 3.",
	"Hyperlipidemia treated with atorvastatin.",
}

var findings = []string{
	"ECG shows sinus tachycardia without ST elevation.",
	"Chest x-ray demonstrates a right lower lobe consolidation.",
	"MRI of the knee reveals a medial meniscus tear.",
	"Troponin within normal limits.",
	"Echocardiogram shows reduced ejection fraction.",
	"CT of the head is unremarkable.",
	"Lung auscultation reveals bilateral wheezing.",
	"Blood pressure elevated at 168/95.",
}

var plans = []string{
	"Plan: cardiology referral and stress test.",
	"Plan: start amoxicillin and follow up in one week.",
	"Plan: physical therapy and ibuprofen as needed.",
	"Plan: adjust diuretic dose and recheck electrolytes.",
	"Plan: cardiac catheterization scheduled.",
	"Plan: continue current medications, return if symptoms worsen.",
}

var (
	out               = flag.String("o", "", "Output JSONL file (default stdout)")
	patients          = flag.Int("patients", 10, "Number of synthetic patients")
	notesPerPatient   = flag.Int("notes", 5, "Notes per patient")
	reportsPerPatient = flag.Int("reports", 1, "Reports per patient")
	seed              = flag.Uint64("seed", 42, "Random seed")
	seedFileName      = flag.String("f", "", "Use lines of this file as note texts instead of generated notes")
)

// linesFromFile returns an iterator over non-blank lines in a file.
func linesFromFile(filename string) (iter.Seq[string], error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	return func(yield func(string) bool) {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !yield(line) {
				return
			}
		}
	}, nil
}

// generatedNotes returns an iterator over synthetic note texts.
func generatedNotes(rng *rand.Rand, n int) iter.Seq[string] {
	return func(yield func(string) bool) {
		for range n {
			text := fmt.Sprintf("Patient presents with %s. %s %s %s",
				pick(rng, complaints), pick(rng, histories), pick(rng, findings), pick(rng, plans))
			if !yield(text) {
				return
			}
		}
	}
}

func pick(rng *rand.Rand, options []string) string {
	return options[rng.IntN(len(options))]
}

// buildItems assigns note texts to patients round-robin and adds reports.
func buildItems(rng *rand.Rand, texts iter.Seq[string], patientCount, reports int, start time.Time) []*core.SourceItem {
	var items []*core.SourceItem
	at := start
	i := 0
	for text := range texts {
		patient := fmt.Sprintf("P%03d", i%patientCount+1)
		items = append(items, &core.SourceItem{
			ItemID:       fmt.Sprintf("note-%05d", i+1),
			ItemType:     core.ItemTypeNote,
			PatientID:    patient,
			TextContent:  text,
			LastModified: at,
		})
		at = at.Add(time.Duration(rng.IntN(120)+1) * time.Minute)
		i++
	}

	for p := 1; p <= patientCount; p++ {
		for r := 1; r <= reports; r++ {
			items = append(items, &core.SourceItem{
				ItemID:       fmt.Sprintf("report-P%03d-%d", p, r),
				ItemType:     core.ItemTypeReport,
				PatientID:    fmt.Sprintf("P%03d", p),
				TextContent:  fmt.Sprintf("Impression: %s %s", pick(rng, findings), pick(rng, plans)),
				LastModified: at,
			})
			at = at.Add(time.Minute)
		}
	}
	return items
}

func main() {
	flag.Parse()
	if *patients < 1 {
		fmt.Fprintln(os.Stderr, "seeder: -patients must be at least 1")
		os.Exit(2)
	}

	rng := rand.New(rand.NewPCG(*seed, *seed))

	// Determine source of seed data
	var texts iter.Seq[string]
	if *seedFileName != "" {
		var err error
		texts, err = linesFromFile(*seedFileName)
		if err != nil {
			panic(err)
		}
	} else {
		count := *patients * *notesPerPatient
		texts = generatedNotes(rng, count)
	}

	start := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	items := buildItems(rng, texts, *patients, *reportsPerPatient, start)

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			panic(err)
		}
		defer f.Close()
		w = f
	}
	if err := source.WriteJSONL(w, items); err != nil {
		panic(err)
	}
	fmt.Fprintf(os.Stderr, "wrote %d items for %d patients\n", len(items), *patients)
}
