// Package export builds and writes the CRM contact bulk-import file.
package export

// Column names of the CRM contact import. Order and spelling are the import
// contract; custom attribute names are reproduced exactly as configured in
// the CRM, emoji included.
const (
	ColContactID          = "Givebutter Contact ID"
	ColExternalID         = "Contact External ID"
	ColPrefix             = "Prefix"
	ColFirstName          = "First Name"
	ColMiddleName         = "Middle Name"
	ColLastName           = "Last Name"
	ColSuffix             = "Suffix"
	ColDateOfBirth        = "Date of Birth"
	ColGender             = "Gender"
	ColEmployer           = "Employer"
	ColTitle              = "Title"
	ColPrimaryEmail       = "Primary Email"
	ColAdditionalEmails   = "Additional Emails"
	ColPrimaryPhone       = "Primary Phone"
	ColAdditionalPhones   = "Additional Phones"
	ColAddressLine1       = "Address Line 1"
	ColAddressLine2       = "Address Line 2"
	ColCity               = "City"
	ColState              = "State"
	ColPostalCode         = "Postal Code"
	ColCountry            = "Country"
	ColAdditionalAddrs    = "Additional Addresses"
	ColWebsite            = "Website"
	ColTwitter            = "Twitter URL"
	ColLinkedIn           = "LinkedIn URL"
	ColFacebook           = "Facebook URL"
	ColDateCreated        = "Date Created"
	ColTags               = "Tags"
	ColNotes              = "Notes"
	ColEmailSubscription  = "Email Subscription Status"
	ColPhoneSubscription  = "Phone Subscription Status"
	ColAddrSubscription   = "Address Subscription Status"
	ColHouseholdID        = "Household ID"
	ColHouseholdName      = "Household Name"
	ColHouseholdPrimary   = "Is Household Primary Contact"
	ColRecurring          = "Recurring Contributions"
	ColTotalContributions = "Total Contributions"
	ColTotalSoftCredits   = "Total Soft Credits"
	ColLifetimeValue      = "Lifetime Value"
	ColLastContribution   = "Last Contribution Date"
	ColFirstContribution  = "First Contribution Date"
	ColPreferredName      = "Preferred Name"
	ColUGAEmail           = "UGA Email"
	ColShirtSize          = "Shirt Size"
	ColMentorID           = "Mentor ID"
	ColMemberID           = "Campaign Member ID"
	ColGoal               = "Fundraising Goal"
	ColRaised             = "Amount Raised"
	ColStatusCategory     = "Status Category"
	ColTextInstructions   = "Text Instructions"
	ColSignUpComplete     = "📝 Sign Up Complete"
	ColPageSetup          = "💸 Givebutter Page Setup"
	ColTrainingComplete   = "🚂 Mentor Training Complete"
	ColFundraisingDone    = "💰 Fundraising Done"
	ColProgramYear        = "📆 Program Year"
	ColLastSynced         = "🔄 Last Synced"
)

// Columns is the ordered header of the import file.
var Columns = []string{
	ColContactID,
	ColExternalID,
	ColPrefix,
	ColFirstName,
	ColMiddleName,
	ColLastName,
	ColSuffix,
	ColDateOfBirth,
	ColGender,
	ColEmployer,
	ColTitle,
	ColPrimaryEmail,
	ColAdditionalEmails,
	ColPrimaryPhone,
	ColAdditionalPhones,
	ColAddressLine1,
	ColAddressLine2,
	ColCity,
	ColState,
	ColPostalCode,
	ColCountry,
	ColAdditionalAddrs,
	ColWebsite,
	ColTwitter,
	ColLinkedIn,
	ColFacebook,
	ColDateCreated,
	ColTags,
	ColNotes,
	ColEmailSubscription,
	ColPhoneSubscription,
	ColAddrSubscription,
	ColHouseholdID,
	ColHouseholdName,
	ColHouseholdPrimary,
	ColRecurring,
	ColTotalContributions,
	ColTotalSoftCredits,
	ColLifetimeValue,
	ColLastContribution,
	ColFirstContribution,
	ColPreferredName,
	ColUGAEmail,
	ColShirtSize,
	ColMentorID,
	ColMemberID,
	ColGoal,
	ColRaised,
	ColStatusCategory,
	ColTextInstructions,
	ColSignUpComplete,
	ColPageSetup,
	ColTrainingComplete,
	ColFundraisingDone,
	ColProgramYear,
	ColLastSynced,
}
