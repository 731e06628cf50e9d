/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package export_test

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
	"github.com/anvil-project/anvil/pkg/errors"
	"github.com/anvil-project/anvil/pkg/export"
	"github.com/anvil-project/anvil/pkg/export/manifest"
	"github.com/anvil-project/anvil/pkg/test"
)

var _ = Describe("Export", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	labeler := func(id, pseudonym string) *v1alpha1.Labeler {
		l := test.Labeler(test.LabelerOptions{ID: id, Pseudonym: pseudonym})
		Expect(store.PutLabeler(ctx, l)).To(Succeed())
		return l
	}

	submit := func(sampleID string, l *v1alpha1.Labeler, sentiment string) {
		Expect(store.PutLabel(ctx, test.Label(test.LabelOptions{
			QueueID:         queue.ID,
			SampleID:        sampleID,
			LabelerID:       l.ID,
			AssignmentID:    sampleID + "/" + l.ID,
			SchemaVersionID: schema.ID,
			Payload:         v1alpha1.Payload{"sentiment": v1alpha1.StringValue(sentiment)},
			SubmittedAt:     now.Add(-time.Hour),
		}))).To(Succeed())
	}

	request := func(format export.Format, name string) export.Request {
		return export.Request{
			QueueID:         queue.ID,
			SchemaVersionID: schema.ID,
			OutputPath:      filepath.Join(dir, name),
			Format:          format,
		}
	}

	It("should write CSV rows under pseudonyms with a manifest", func() {
		alpha := labeler("labeler-a", "labeler_aaaa")
		beta := labeler("labeler-b", "labeler_bbbb")
		submit("s1", alpha, "positive")
		submit("s1", beta, "negative")
		submit("s2", alpha, "neutral")

		req := request(export.FormatCSV, "labels.csv")
		m, err := engine.Export(ctx, test.Tenant, reviewer.ID, req)
		Expect(err).ToNot(HaveOccurred())
		Expect(m.ExportID).To(HavePrefix("exp_"))
		Expect(m.RowCount).To(Equal(int64(3)))
		Expect(m.SchemaVersionID).To(Equal(schema.ID))
		Expect(m.SchemaDefinitionHash).To(MatchRegexp(`^[0-9a-f]{64}$`))

		file, err := os.Open(req.OutputPath)
		Expect(err).ToNot(HaveOccurred())
		defer file.Close()
		records, err := csv.NewReader(file).ReadAll()
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(4))
		Expect(records[0]).To(Equal([]string{"sample_id", "labeler_id", "sentiment", "submitted_at"}))
		Expect(records[1]).To(Equal([]string{"s1", "labeler_aaaa", "positive", "2026-08-24T11:00:00Z"}))
		Expect(records[2][1]).To(Equal("labeler_bbbb"))
		Expect(records[3][0]).To(Equal("s2"))

		read, err := manifest.Read(manifest.Path(req.OutputPath))
		Expect(err).ToNot(HaveOccurred())
		Expect(read.SHA256Hash).To(Equal(m.SHA256Hash))
		Expect(read.Parameters.RedactionMode).To(Equal("automatic"))
	})
	It("should produce byte-identical artifacts across runs", func() {
		alpha := labeler("labeler-a", "labeler_aaaa")
		submit("s1", alpha, "positive")
		submit("s2", alpha, "negative")

		first, err := engine.Export(ctx, test.Tenant, reviewer.ID, request(export.FormatJSONL, "one.jsonl"))
		Expect(err).ToNot(HaveOccurred())
		second, err := engine.Export(ctx, test.Tenant, reviewer.ID, request(export.FormatJSONL, "two.jsonl"))
		Expect(err).ToNot(HaveOccurred())
		Expect(first.SHA256Hash).To(Equal(second.SHA256Hash))
	})
	It("should emit JSONL rows with the pseudonym as labeler id", func() {
		alpha := labeler("labeler-a", "labeler_aaaa")
		submit("s1", alpha, "positive")

		req := request(export.FormatJSONL, "labels.jsonl")
		_, err := engine.Export(ctx, test.Tenant, reviewer.ID, req)
		Expect(err).ToNot(HaveOccurred())

		raw, err := os.ReadFile(req.OutputPath)
		Expect(err).ToNot(HaveOccurred())
		lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
		Expect(lines).To(HaveLen(1))

		var row map[string]any
		Expect(json.Unmarshal([]byte(lines[0]), &row)).To(Succeed())
		Expect(row["sample_id"]).To(Equal("s1"))
		Expect(row["labeler_id"]).To(Equal("labeler_aaaa"))
		Expect(row["submitted_at"]).To(Equal("2026-08-24T11:00:00Z"))
		// The sample was never registered, so the metadata object is empty
		// but the key is still present.
		Expect(row).To(HaveKey("metadata"))
		Expect(row["metadata"]).To(Equal(map[string]any{}))
	})
	It("should carry the sample reference metadata onto JSONL rows", func() {
		Expect(store.PutSampleRef(ctx, test.SampleRef(test.SampleRefOptions{
			ID:       "s1",
			QueueID:  queue.ID,
			Metadata: map[string]string{"difficulty": "complex", "source": "batch-7"},
		}))).To(Succeed())
		alpha := labeler("labeler-a", "labeler_aaaa")
		submit("s1", alpha, "positive")

		req := request(export.FormatJSONL, "meta.jsonl")
		_, err := engine.Export(ctx, test.Tenant, reviewer.ID, req)
		Expect(err).ToNot(HaveOccurred())

		raw, err := os.ReadFile(req.OutputPath)
		Expect(err).ToNot(HaveOccurred())
		var row map[string]any
		Expect(json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &row)).To(Succeed())
		Expect(row["metadata"]).To(Equal(map[string]any{"difficulty": "complex", "source": "batch-7"}))
	})
	It("should migrate labels stored under an older schema version", func() {
		v2def := v1alpha1.SchemaDefinition{Fields: map[string]v1alpha1.Field{
			"polarity": {
				Name:    "polarity",
				Type:    v1alpha1.FieldTypeSelect,
				Options: []string{"positive", "negative", "neutral"},
			},
		}}
		v2 := test.SchemaVersion(test.SchemaVersionOptions{
			QueueID:       queue.ID,
			VersionNumber: 2,
			Definition:    v2def,
			TransformFromPrevious: &v1alpha1.TransformSpec{Ops: []v1alpha1.TransformOp{
				{Kind: "rename", Field: "sentiment", NewName: "polarity"},
			}},
		})
		Expect(store.PutSchemaVersion(ctx, v2)).To(Succeed())

		alpha := labeler("labeler-a", "labeler_aaaa")
		submit("s1", alpha, "positive")

		req := export.Request{
			QueueID:         queue.ID,
			SchemaVersionID: v2.ID,
			OutputPath:      filepath.Join(dir, "migrated.csv"),
			Format:          export.FormatCSV,
		}
		_, err := engine.Export(ctx, test.Tenant, reviewer.ID, req)
		Expect(err).ToNot(HaveOccurred())

		file, err := os.Open(req.OutputPath)
		Expect(err).ToNot(HaveOccurred())
		defer file.Close()
		records, err := csv.NewReader(file).ReadAll()
		Expect(err).ToNot(HaveOccurred())
		Expect(records[0]).To(Equal([]string{"sample_id", "labeler_id", "polarity", "submitted_at"}))
		Expect(records[1][2]).To(Equal("positive"))
	})
	It("should apply the field redaction policies under the automatic mode", func() {
		redacting := test.SchemaVersion(test.SchemaVersionOptions{
			QueueID:       queue.ID,
			VersionNumber: 2,
			Definition: v1alpha1.SchemaDefinition{Fields: map[string]v1alpha1.Field{
				"sentiment": {
					Name:    "sentiment",
					Type:    v1alpha1.FieldTypeSelect,
					Options: []string{"positive", "negative", "neutral"},
				},
				"notes": {
					Name: "notes",
					Type: v1alpha1.FieldTypeText,
					Metadata: v1alpha1.FieldMetadata{
						PII:             v1alpha1.PIILikely,
						RedactionPolicy: v1alpha1.RedactionStrip,
					},
				},
			}},
		})
		Expect(store.PutSchemaVersion(ctx, redacting)).To(Succeed())

		alpha := labeler("labeler-a", "labeler_aaaa")
		Expect(store.PutLabel(ctx, test.Label(test.LabelOptions{
			QueueID:         queue.ID,
			SampleID:        "s1",
			LabelerID:       alpha.ID,
			SchemaVersionID: redacting.ID,
			Payload: v1alpha1.Payload{
				"sentiment": v1alpha1.StringValue("positive"),
				"notes":     v1alpha1.StringValue("call me at home"),
			},
			SubmittedAt: now.Add(-time.Hour),
		}))).To(Succeed())

		stripped := export.Request{
			QueueID:         queue.ID,
			SchemaVersionID: redacting.ID,
			OutputPath:      filepath.Join(dir, "stripped.jsonl"),
			Format:          export.FormatJSONL,
		}
		_, err := engine.Export(ctx, test.Tenant, reviewer.ID, stripped)
		Expect(err).ToNot(HaveOccurred())
		raw, err := os.ReadFile(stripped.OutputPath)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(raw)).ToNot(ContainSubstring("call me at home"))

		kept := stripped
		kept.OutputPath = filepath.Join(dir, "kept.jsonl")
		kept.RedactionMode = "none"
		_, err = engine.Export(ctx, test.Tenant, reviewer.ID, kept)
		Expect(err).ToNot(HaveOccurred())
		raw, err = os.ReadFile(kept.OutputPath)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring("call me at home"))
	})
	It("should require the review capability", func() {
		plain := test.Labeler()
		Expect(store.PutLabeler(ctx, plain)).To(Succeed())
		Expect(store.PutQueueMembership(ctx, test.Membership(test.MembershipOptions{
			QueueID: queue.ID, LabelerID: plain.ID,
		}))).To(Succeed())

		_, err := engine.Export(ctx, test.Tenant, plain.ID, request(export.FormatCSV, "denied.csv"))
		Expect(errors.IsForbidden(err)).To(BeTrue())
	})
	It("should reject a request without a format", func() {
		req := request("", "invalid.csv")
		_, err := engine.Export(ctx, test.Tenant, reviewer.ID, req)
		Expect(err).To(HaveOccurred())
	})
})
