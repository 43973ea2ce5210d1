package extraction

// PromptVersion identifies the wording of ExtractionPrompt. Bump it whenever the text
// changes: the wording is part of the contract with the model.
const PromptVersion = "nl-invoice-v1"

// ExtractionPrompt is the instruction sent after the page images. It describes the JSON
// schema, asks for an inclusive total with VAT reported separately, null for missing fields,
// ISO dates, and zero confidence for documents that are not invoices or receipts.
const ExtractionPrompt = `Je bent een expert document-extractor gespecialiseerd in Nederlandse en Europese facturen en bonnen.

Analyseer dit document en extraheer de volgende informatie als valide JSON:

{
    "vendor_name": "Naam van de leverancier/bedrijf",
    "invoice_number": "Factuurnummer",
    "invoice_date": "YYYY-MM-DD",
    "due_date": "YYYY-MM-DD",
    "total_amount": 0.00,
    "vat_amount": 0.00,
    "vat_percentage": 21.0,
    "currency": "EUR",
    "iban": "NL00BANK0000000000",
    "line_items": [
        {
            "description": "Omschrijving",
            "quantity": 1.0,
            "unit_price": 0.00,
            "total": 0.00,
            "vat_percentage": 21.0
        }
    ],
    "confidence": 0.95
}

Regels:
- Retourneer UITSLUITEND valide JSON. Geen tekst ervoor of erna.
- Gebruik null voor velden die niet te vinden zijn in het document.
- Bedragen zijn numeriek zonder valutasymbolen.
- Datums in YYYY-MM-DD formaat.
- total_amount is het eindbedrag INCLUSIEF BTW.
- vat_amount is het BTW-bedrag apart.
- Als het document geen factuur of bon is, zet alle velden op null en confidence op 0.0.
- confidence geeft aan hoe zeker je bent over de gehele extractie (0.0 tot 1.0).`
