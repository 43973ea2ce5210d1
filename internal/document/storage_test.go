package document

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename  string
			data      []byte
			savedPath string
			err       error
		)

		BeforeEach(func() {
			filename = "doc-1_invoice.pdf"
			data = []byte("%PDF-1.7 test content")
		})

		JustBeforeEach(func() {
			savedPath, err = storage.Save(filename, data)
		})

		When("saving succeeds", func() {
			It("should return the name as path", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedPath).To(Equal(filename))
			})

			It("should write the file to disk", func() {
				content, readErr := os.ReadFile(filepath.Join(tmpDir, "uploads", filename))
				Expect(readErr).NotTo(HaveOccurred())
				Expect(content).To(Equal(data))
			})

			It("should leave no temporary files behind", func() {
				entries, readErr := os.ReadDir(filepath.Join(tmpDir, "uploads"))
				Expect(readErr).NotTo(HaveOccurred())
				Expect(entries).To(HaveLen(1))
			})
		})

		When("the name tries to escape the directory", func() {
			BeforeEach(func() {
				filename = "../../outside.pdf"
			})

			It("should keep the file inside the storage directory", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedPath).To(Equal("outside.pdf"))
				Expect(filepath.Join(tmpDir, "outside.pdf")).NotTo(BeAnExistingFile())
				Expect(filepath.Join(tmpDir, "uploads", "outside.pdf")).To(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		When("file exists", func() {
			It("should return the content", func() {
				path, err := storage.Save("a.png", []byte("png"))
				Expect(err).NotTo(HaveOccurred())
				data, err := storage.Get(path)
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal([]byte("png")))
			})
		})

		When("file does not exist", func() {
			It("should return an error", func() {
				_, err := storage.Get("missing.png")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Delete", func() {
		When("file exists", func() {
			It("should remove it", func() {
				path, err := storage.Save("a.png", []byte("png"))
				Expect(err).NotTo(HaveOccurred())
				Expect(storage.Delete(path)).To(Succeed())
				_, err = storage.Get(path)
				Expect(err).To(HaveOccurred())
			})
		})

		When("file does not exist", func() {
			It("should return an error", func() {
				Expect(storage.Delete("missing.png")).NotTo(Succeed())
			})
		})
	})
})
