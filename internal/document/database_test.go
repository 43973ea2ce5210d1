package document

import (
	"fmt"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/docstream/docstream/internal/extraction"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
		base   time.Time
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	newDoc := func(id, owner string, created time.Time) *Document {
		return &Document{
			ID:          id,
			OwnerID:     owner,
			Filename:    id + ".pdf",
			StoragePath: id + "_file.pdf",
			MediaType:   extraction.MediaTypePDF,
			Status:      StatusProcessing,
			CreatedAt:   created,
			UpdatedAt:   created,
		}
	}

	Describe("SaveDocument", func() {
		When("saving succeeds", func() {
			It("should round trip the document", func() {
				doc := newDoc("doc-1", "user-1", base)
				doc.Extraction = extraction.Parse(`{"vendor_name":"Acme BV","total_amount":121.0,"confidence":0.9}`)
				Expect(db.SaveDocument(doc)).To(Succeed())

				saved, err := db.GetDocument("doc-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.OwnerID).To(Equal("user-1"))
				Expect(*saved.Extraction.VendorName).To(Equal("Acme BV"))
				Expect(*saved.Extraction.TotalAmount).To(Equal(121.0))
				Expect(saved.CreatedAt.Equal(base)).To(BeTrue())
			})

			It("should replace an existing document", func() {
				doc := newDoc("doc-1", "user-1", base)
				Expect(db.SaveDocument(doc)).To(Succeed())
				doc.Status = StatusCompleted
				Expect(db.SaveDocument(doc)).To(Succeed())

				saved, err := db.GetDocument("doc-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.Status).To(Equal(StatusCompleted))
			})
		})
	})

	Describe("GetDocument", func() {
		When("document does not exist", func() {
			It("should return ErrNotFound", func() {
				_, err := db.GetDocument("missing")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("ListDocuments", func() {
		BeforeEach(func() {
			for i := 0; i < 5; i++ {
				Expect(db.SaveDocument(newDoc(fmt.Sprintf("doc-%d", i), "user-1", base.Add(time.Duration(i)*time.Hour)))).To(Succeed())
			}
			Expect(db.SaveDocument(newDoc("other", "user-2", base))).To(Succeed())
		})

		It("should return only the owner's documents, newest first", func() {
			docs, total, err := db.ListDocuments("user-1", 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(5))
			Expect(docs).To(HaveLen(5))
			Expect(docs[0].ID).To(Equal("doc-4"))
			Expect(docs[4].ID).To(Equal("doc-0"))
		})

		It("should paginate", func() {
			docs, total, err := db.ListDocuments("user-1", 1, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(5))
			Expect(docs).To(HaveLen(2))
			Expect(docs[0].ID).To(Equal("doc-3"))
			Expect(docs[1].ID).To(Equal("doc-2"))
		})

		It("should return an empty page past the end", func() {
			docs, total, err := db.ListDocuments("user-1", 10, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(5))
			Expect(docs).To(BeEmpty())
		})

		It("should return nothing for an unknown owner", func() {
			docs, total, err := db.ListDocuments("nobody", 0, 20)
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(BeZero())
			Expect(docs).To(BeEmpty())
		})
	})

	Describe("DeleteDocument", func() {
		It("should remove the document", func() {
			Expect(db.SaveDocument(newDoc("doc-1", "user-1", base))).To(Succeed())
			Expect(db.DeleteDocument("doc-1")).To(Succeed())
			_, err := db.GetDocument("doc-1")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("CacheFor", func() {
		var rec *extraction.Record

		BeforeEach(func() {
			rec = extraction.Parse(`{"vendor_name":"Acme BV","confidence":0.8}`)
		})

		It("should miss on an empty cache", func() {
			got, ok, err := db.CacheFor("user-1").Lookup("abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(got).To(BeNil())
		})

		It("should return a stored record", func() {
			Expect(db.CacheFor("user-1").Store("abc", rec)).To(Succeed())
			got, ok, err := db.CacheFor("user-1").Lookup("abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(rec))
		})

		It("should keep owners apart", func() {
			Expect(db.CacheFor("user-1").Store("abc", rec)).To(Succeed())
			_, ok, err := db.CacheFor("user-2").Lookup("abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("should survive reopening the database", func() {
			Expect(db.CacheFor("user-1").Store("abc", rec)).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			_, ok, err := db.CacheFor("user-1").Lookup("abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})

	Describe("HistoryFor", func() {
		entry := func(hash, filename string, at time.Time, confidence float64) HistoryEntry {
			rec := extraction.EmptyRecord()
			rec.Confidence = confidence
			return HistoryEntry{Hash: hash, Filename: filename, Record: rec, CreatedAt: at, UpdatedAt: at}
		}

		It("should list entries newest first", func() {
			h := db.HistoryFor("user-1")
			Expect(h.Add(entry("a", "a.pdf", base, 0.9))).To(Succeed())
			Expect(h.Add(entry("b", "b.pdf", base.Add(time.Hour), 0.6))).To(Succeed())

			entries, err := h.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Hash).To(Equal("b"))
			Expect(entries[0].ConfidenceBand).To(Equal("review"))
			Expect(entries[1].ConfidenceBand).To(Equal("high"))
		})

		It("should replace an entry with the same hash and keep its creation time", func() {
			h := db.HistoryFor("user-1")
			Expect(h.Add(entry("a", "first.pdf", base, 0.9))).To(Succeed())
			Expect(h.Add(entry("a", "second.pdf", base.Add(time.Hour), 0.9))).To(Succeed())

			entries, err := h.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Filename).To(Equal("second.pdf"))
			Expect(entries[0].CreatedAt.Equal(base)).To(BeTrue())
			Expect(entries[0].UpdatedAt.Equal(base.Add(time.Hour))).To(BeTrue())
		})

		It("should keep owners apart", func() {
			Expect(db.HistoryFor("user-1").Add(entry("a", "a.pdf", base, 0.9))).To(Succeed())
			entries, err := db.HistoryFor("user-2").List()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})
})

var _ = Describe("MemoryHistory", func() {
	It("should deduplicate by hash", func() {
		h := NewMemoryHistory()
		at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		Expect(h.Add(HistoryEntry{Hash: "a", Filename: "one.png", Record: extraction.EmptyRecord(), CreatedAt: at})).To(Succeed())
		Expect(h.Add(HistoryEntry{Hash: "a", Filename: "two.png", Record: extraction.EmptyRecord(), CreatedAt: at.Add(time.Minute), UpdatedAt: at.Add(time.Minute)})).To(Succeed())

		entries, err := h.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Filename).To(Equal("two.png"))
		Expect(entries[0].CreatedAt.Equal(at)).To(BeTrue())
		Expect(entries[0].ConfidenceBand).To(Equal("low"))
	})
})
