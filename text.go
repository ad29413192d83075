package main

// Toast and inline messages shown by the summary page.
var (
	MsgSaved         = "Notes saved locally!"
	MsgNothingToSave = "Nothing to save!"
	MsgNeedName      = "Please enter your name"
	MsgNeedMessage   = "Please write something first!"
	MsgSent          = "✨ Message sent successfully! Thank you for sharing."
	MsgRemoteError   = "Something went wrong"
	MsgNetworkError  = "Network error: Please check your connection and try again"
	MsgSending       = "Your message is still on its way"
	MsgTabLimit      = "Too many tabs open. Close one to make room."
	MsgTabNotFound   = "That tab doesn't exist"
	MsgTabPermanent  = "This tab can't be closed"
	MsgNotDraftTab   = "Only draft tabs hold notes"
	MsgNoDraft       = "No saved draft for this tab"
	MsgClearConfirm  = "Are you sure you want to clear all notes and user info?"
	MsgInternalError = "Internal Server Error"

	// Inline field errors under the inputs.
	FieldErrors = map[string]string{
		"author":  "Please enter your name.",
		"content": "Please write a message.",
	}
)
