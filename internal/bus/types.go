package bus

// Message types form a closed set. Every type the UI may send or receive is
// declared here; dispatching anything else is rejected with a warning.
const (
	// Lifecycle and control.
	TypeInitialize    = "initialize"
	TypeInitialized   = "initialized"
	TypeDispose       = "dispose"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeError         = "error"
	TypeWarning       = "warning"
	TypeCancelLoading = "cancelLoading"

	// Prompt history and daily stats.
	TypeGetPromptHistory    = "getPromptHistory"
	TypePromptHistory       = "promptHistory"
	TypeAddPrompt           = "addPrompt"
	TypePromptAdded         = "promptAdded"
	TypeClearHistory        = "clearHistory"
	TypeConfirmClearHistory = "confirmClearHistory"
	TypeHistoryCleared      = "historyCleared"
	TypeGetDailyStats       = "getDailyStats"
	TypeDailyStats          = "dailyStats"
	TypeResetDailyStats     = "resetDailyStats"
	TypeDailyStatsReset     = "dailyStatsReset"

	// Scoring and coaching.
	TypeAnalyzePrompt     = "analyzePrompt"
	TypePromptAnalyzed    = "promptAnalyzed"
	TypeAnalysisFailed    = "analysisFailed"
	TypeReanalyzePrompt   = "reanalyzePrompt"
	TypeImprovePrompt     = "improvePrompt"
	TypePromptImproved    = "promptImproved"
	TypeGetCoachingStatus = "getCoachingStatus"
	TypeCoachingStatus    = "coachingStatus"

	// Saved prompt library.
	TypeGetSavedPrompts          = "getSavedPrompts"
	TypeSavedPrompts             = "savedPrompts"
	TypeSavePrompt               = "savePrompt"
	TypePromptSaved              = "promptSaved"
	TypeDeleteSavedPrompt        = "deleteSavedPrompt"
	TypeSavedPromptDeleted       = "savedPromptDeleted"
	TypeUpdateSavedPrompt        = "updateSavedPrompt"
	TypeSavedPromptUpdated       = "savedPromptUpdated"
	TypeSearchSavedPrompts       = "searchSavedPrompts"
	TypeSavedPromptSearchResults = "savedPromptSearchResults"
	TypeGetPromptTags            = "getPromptTags"
	TypePromptTags               = "promptTags"
	TypeGetPromptFolders         = "getPromptFolders"
	TypePromptFolders            = "promptFolders"
	TypeQuotaWarning             = "quotaWarning"
	TypeQuotaExceeded            = "quotaExceeded"

	// Provider registry.
	TypeGetProviders          = "getProviders"
	TypeProviders             = "providers"
	TypeSetActiveProvider     = "setActiveProvider"
	TypeActiveProviderChanged = "activeProviderChanged"
	TypeConfigureProvider     = "configureProvider"
	TypeProviderConfigured    = "providerConfigured"
	TypeDetectProviders       = "detectProviders"
	TypeProvidersDetected     = "providersDetected"
	TypeListModels            = "listModels"
	TypeModels                = "models"

	// Auth and token storage.
	TypeSignIn         = "signIn"
	TypeSignedIn       = "signedIn"
	TypeSignOut        = "signOut"
	TypeConfirmSignOut = "confirmSignOut"
	TypeSignedOut      = "signedOut"
	TypeGetAuthStatus  = "getAuthStatus"
	TypeAuthStatus     = "authStatus"
	TypeReauthRequired = "reauthRequired"
	TypeStoreToken     = "storeToken"
	TypeTokenStored    = "tokenStored"
	TypeClearToken     = "clearToken"
	TypeTokenCleared   = "tokenCleared"

	// Sessions.
	TypeGetSessions        = "getSessions"
	TypeSessions           = "sessions"
	TypeGetSession         = "getSession"
	TypeSession            = "session"
	TypeGetSessionMessages = "getSessionMessages"
	TypeSessionMessages    = "sessionMessages"
	TypeGetActiveSession   = "getActiveSession"
	TypeActiveSession      = "activeSession"
	TypeGetSessionDuration = "getSessionDuration"
	TypeSessionDuration    = "sessionDuration"

	// Cloud sync.
	TypeSyncSessions  = "syncSessions"
	TypeSyncStarted   = "syncStarted"
	TypeSyncProgress  = "syncProgress"
	TypeSyncCompleted = "syncCompleted"
	TypeSyncFailed    = "syncFailed"
	TypeUploadFailed  = "uploadFailed"
	TypeCancelSync    = "cancelSync"
	TypeSyncCancelled = "syncCancelled"
	TypeGetSyncStatus = "getSyncStatus"
	TypeSyncStatus    = "syncStatus"

	// Detection.
	TypePromptDetected          = "promptDetected"
	TypeGetDetectionStatus      = "getDetectionStatus"
	TypeDetectionStatus         = "detectionStatus"
	TypeSetDetectionEnabled     = "setDetectionEnabled"
	TypeDetectionEnabledChanged = "detectionEnabledChanged"
	TypeInstallHooks            = "installHooks"
	TypeHooksInstalled          = "hooksInstalled"

	// Configuration.
	TypeGetConfig     = "getConfig"
	TypeConfig        = "config"
	TypeUpdateConfig  = "updateConfig"
	TypeConfigChanged = "configChanged"
)

// handlerDependent lists the types owned by component handlers. A message of
// one of these types arriving before initialization is queued and answered
// after init completes instead of being rejected. Every new handler-owned
// type must be added here or it will race initialization.
var handlerDependent = map[string]bool{
	TypeCancelLoading:            true,
	TypeGetPromptHistory:         true,
	TypePromptHistory:            true,
	TypeAddPrompt:                true,
	TypePromptAdded:              true,
	TypeClearHistory:             true,
	TypeConfirmClearHistory:      true,
	TypeHistoryCleared:           true,
	TypeGetDailyStats:            true,
	TypeDailyStats:               true,
	TypeResetDailyStats:          true,
	TypeDailyStatsReset:          true,
	TypeAnalyzePrompt:            true,
	TypePromptAnalyzed:           true,
	TypeAnalysisFailed:           true,
	TypeReanalyzePrompt:          true,
	TypeImprovePrompt:            true,
	TypePromptImproved:           true,
	TypeGetCoachingStatus:        true,
	TypeCoachingStatus:           true,
	TypeGetSavedPrompts:          true,
	TypeSavedPrompts:             true,
	TypeSavePrompt:               true,
	TypePromptSaved:              true,
	TypeDeleteSavedPrompt:        true,
	TypeSavedPromptDeleted:       true,
	TypeUpdateSavedPrompt:        true,
	TypeSavedPromptUpdated:       true,
	TypeSearchSavedPrompts:       true,
	TypeSavedPromptSearchResults: true,
	TypeGetPromptTags:            true,
	TypePromptTags:               true,
	TypeGetPromptFolders:         true,
	TypePromptFolders:            true,
	TypeQuotaWarning:             true,
	TypeQuotaExceeded:            true,
	TypeGetProviders:             true,
	TypeProviders:                true,
	TypeSetActiveProvider:        true,
	TypeActiveProviderChanged:    true,
	TypeConfigureProvider:        true,
	TypeProviderConfigured:       true,
	TypeDetectProviders:          true,
	TypeProvidersDetected:        true,
	TypeListModels:               true,
	TypeModels:                   true,
	TypeSignIn:                   true,
	TypeSignedIn:                 true,
	TypeSignOut:                  true,
	TypeConfirmSignOut:           true,
	TypeSignedOut:                true,
	TypeGetAuthStatus:            true,
	TypeAuthStatus:               true,
	TypeReauthRequired:           true,
	TypeStoreToken:               true,
	TypeTokenStored:              true,
	TypeClearToken:               true,
	TypeTokenCleared:             true,
	TypeGetSessions:              true,
	TypeSessions:                 true,
	TypeGetSession:               true,
	TypeSession:                  true,
	TypeGetSessionMessages:       true,
	TypeSessionMessages:          true,
	TypeGetActiveSession:         true,
	TypeActiveSession:            true,
	TypeGetSessionDuration:       true,
	TypeSessionDuration:          true,
	TypeSyncSessions:             true,
	TypeSyncStarted:              true,
	TypeSyncProgress:             true,
	TypeSyncCompleted:            true,
	TypeSyncFailed:               true,
	TypeUploadFailed:             true,
	TypeCancelSync:               true,
	TypeSyncCancelled:            true,
	TypeGetSyncStatus:            true,
	TypeSyncStatus:               true,
	TypePromptDetected:           true,
	TypeGetDetectionStatus:       true,
	TypeDetectionStatus:          true,
	TypeSetDetectionEnabled:      true,
	TypeDetectionEnabledChanged:  true,
	TypeInstallHooks:             true,
	TypeHooksInstalled:           true,
	TypeGetConfig:                true,
	TypeConfig:                   true,
	TypeUpdateConfig:             true,
	TypeConfigChanged:            true,
}

// topLevel lists the types the bus itself answers without a handler.
var topLevel = map[string]bool{
	TypeInitialize:  true,
	TypeInitialized: true,
	TypeDispose:     true,
	TypePing:        true,
	TypePong:        true,
	TypeError:       true,
	TypeWarning:     true,
}

// KnownType reports whether a type belongs to the closed message set.
func KnownType(t string) bool {
	return topLevel[t] || handlerDependent[t]
}

// HandlerDependent reports whether a type is queued before initialization.
func HandlerDependent(t string) bool {
	return handlerDependent[t]
}
