package service

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Redactor", func() {
	var r *Redactor

	BeforeEach(func() {
		r = NewRedactor()
	})

	It("redacts email addresses", func() {
		out := r.Redact("reach me at jo.doe+billing@example.co.uk please")
		Expect(out.Text).To(Equal("reach me at [EMAIL_1] please"))
		Expect(out.Mapping).To(HaveKeyWithValue("[EMAIL_1]", "jo.doe+billing@example.co.uk"))
	})

	It("redacts account numbers and phone numbers together", func() {
		out := r.Redact("My account is 0123456789, call me on 08031234567")
		Expect(out.Text).To(Equal("My account is [ACCOUNT_1], call me on [PHONE_1]"))
		Expect(out.Mapping).To(HaveKeyWithValue("[ACCOUNT_1]", "0123456789"))
		Expect(out.Mapping).To(HaveKeyWithValue("[PHONE_1]", "08031234567"))
	})

	It("redacts card numbers that pass the Luhn check", func() {
		out := r.Redact("charged on 4111 1111 1111 1111 twice")
		Expect(out.Text).To(Equal("charged on [CARD_1] twice"))
	})

	It("leaves non-Luhn digit runs for other rules", func() {
		out := r.Redact("tracking id 4111 1111 1111 1112")
		Expect(out.Text).NotTo(ContainSubstring("[CARD"))
	})

	It("redacts national id shapes", func() {
		out := r.Redact("my ssn is 078-05-1120")
		Expect(out.Text).To(ContainSubstring("[NATIONAL_ID_1]"))
	})

	It("redacts dates of birth only in context", func() {
		out := r.Redact("born on 12/04/1990, joined on 01/01/2020")
		Expect(out.Text).To(ContainSubstring("[DOB_1]"))
		Expect(out.Text).To(ContainSubstring("01/01/2020"))
	})

	It("redacts self-introduced names", func() {
		out := r.Redact("Hi, my name is Chidi Anagonye and I need help")
		Expect(out.Text).To(Equal("Hi, my name is [NAME_1] and I need help"))
	})

	It("redacts dictionary first names", func() {
		out := r.Redact("please tell Priya the export failed")
		Expect(out.Text).To(Equal("please tell [NAME_1] the export failed"))
	})

	It("numbers repeated spans of the same type", func() {
		out := r.Redact("cc a@b.io and c@d.io")
		Expect(out.Text).To(Equal("cc [EMAIL_2] and [EMAIL_1]"))
	})

	It("never redacts inside an already inserted token", func() {
		out := r.Redact("a@b.io")
		again := r.Redact(out.Text)
		Expect(again.Text).To(Equal(out.Text))
	})

	It("restores the original text from the mapping", func() {
		original := "email jo@example.com about account number 00998877 before 078-05-1120"
		out := r.Redact(original)
		Expect(out.Text).NotTo(Equal(original))
		Expect(Restore(out.Text, out.Mapping)).To(Equal(original))
	})
})
